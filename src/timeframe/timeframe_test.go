package timeframe

import (
	"reflect"
	"testing"
)

func TestGetSet(t *testing.T) {
	tf := New()

	if tf.Get("a") != None {
		t.Fatalf("absent feed should be None")
	}

	tf.Set("a", 3)
	tf.Set("a", 1)

	if tf.Get("a") != 3 {
		t.Fatalf("Set should never decrease a position, got %d", tf.Get("a"))
	}
}

func TestDominates(t *testing.T) {
	cases := []struct {
		a, b Timeframe
		dom  bool
	}{
		{Timeframe{}, Timeframe{}, true},
		{Timeframe{"a": 1}, Timeframe{}, true},
		{Timeframe{}, Timeframe{"a": 0}, false},
		{Timeframe{"a": 1, "b": 2}, Timeframe{"a": 1, "b": 2}, true},
		{Timeframe{"a": 1, "b": 2}, Timeframe{"a": 2}, false},
		{Timeframe{"a": 1}, Timeframe{"a": 0, "b": 0}, false},
		{Timeframe{"a": 1}, Timeframe{"a": 0, "b": None}, true},
	}

	for i, c := range cases {
		if got := c.a.Dominates(c.b); got != c.dom {
			t.Fatalf("case %d: %v.Dominates(%v) = %v, want %v", i, c.a, c.b, got, c.dom)
		}
	}
}

func TestMerge(t *testing.T) {
	a := Timeframe{"a": 1, "b": 5}
	b := Timeframe{"b": 2, "c": 0}

	a.Merge(b)

	exp := Timeframe{"a": 1, "b": 5, "c": 0}
	if !reflect.DeepEqual(a, exp) {
		t.Fatalf("got %v, want %v", a, exp)
	}

	if !a.Dominates(b) {
		t.Fatalf("merged timeframe should dominate its inputs")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	a := Timeframe{"a": 1}
	b := a.Copy()
	b.Set("a", 4)

	if a.Get("a") != 1 {
		t.Fatalf("copy should not alias")
	}
}

func TestKeysSorted(t *testing.T) {
	tf := Timeframe{"0XC": 0, "0XA": 1, "0XB": 2}

	if keys := tf.Keys(); !reflect.DeepEqual(keys, []string{"0XA", "0XB", "0XC"}) {
		t.Fatalf("got %v", keys)
	}
}

func TestDepthAndMissing(t *testing.T) {
	a := Timeframe{"a": 1, "b": 0}
	b := Timeframe{"a": 3, "b": 0, "c": 0}

	if a.Depth() != 3 {
		t.Fatalf("depth %d", a.Depth())
	}

	if !(b.Depth() > a.Depth()) {
		t.Fatalf("dominating timeframe should be deeper")
	}

	miss := a.Missing(b)
	exp := Timeframe{"a": 1, "c": None}
	if !reflect.DeepEqual(miss, exp) {
		t.Fatalf("missing %v, want %v", miss, exp)
	}

	if !a.Equals(a.Copy()) || a.Equals(b) {
		t.Fatalf("Equals is broken")
	}
}
