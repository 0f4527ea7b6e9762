package model

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mosaicnetworks/echo/src/common"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ErrItemNotFound is returned when an item id is not known to the manager.
var ErrItemNotFound = errors.New("item not found")

// Writer is the outbound side of a party pipeline.
type Writer interface {
	// WriteMutation appends the mutation to the local data feed and returns
	// its position.
	WriteMutation(ctx context.Context, mutation *Mutation) (string, int, error)

	// WaitForMessage returns once the message at (feedKey, seq) has been
	// dispatched by the inbound pipeline.
	WaitForMessage(ctx context.Context, feedKey string, seq int) error
}

// ItemManager owns the items of a party. The inbound pipeline is the only
// caller of ProcessMutation; everything else reads copies.
type ItemManager struct {
	sync.RWMutex

	registry *Registry
	writer   Writer
	items    map[string]*Item
	trigger  *common.Trigger

	logger *logrus.Entry
}

// NewItemManager ...
func NewItemManager(registry *Registry, writer Writer, logger *logrus.Entry) *ItemManager {
	return &ItemManager{
		registry: registry,
		writer:   writer,
		items:    make(map[string]*Item),
		trigger:  common.NewTrigger(),
		logger:   logger,
	}
}

// SetWriter attaches the outbound pipeline. It must be called before any
// write.
func (im *ItemManager) SetWriter(w Writer) {
	im.Lock()
	defer im.Unlock()
	im.writer = w
}

// CreateItem writes a genesis mutation for a new item and waits for the item
// to be constructed by the inbound pipeline. cmd sets the initial state and
// may be nil.
func (im *ItemManager) CreateItem(ctx context.Context, itemType, modelKind, parent string, cmd Command) (*Item, error) {
	m, err := im.registry.Get(modelKind)
	if err != nil {
		return nil, err
	}

	mutation, err := m.CreateMutation(nil, cmd)
	if err != nil {
		return nil, err
	}
	mutation.ItemID = ulid.Make().String()
	mutation.ItemType = itemType
	mutation.Parent = parent
	mutation.Genesis = true

	if err := im.write(ctx, mutation); err != nil {
		return nil, err
	}

	return im.GetItem(mutation.ItemID)
}

// UpdateItem writes a mutation for an existing item and returns the item as
// it is once the mutation has been applied.
func (im *ItemManager) UpdateItem(ctx context.Context, id string, cmd Command) (*Item, error) {
	item, err := im.GetItem(id)
	if err != nil {
		return nil, err
	}

	m, err := im.registry.Get(item.ModelKind)
	if err != nil {
		return nil, err
	}

	mutation, err := m.CreateMutation(item, cmd)
	if err != nil {
		return nil, err
	}
	mutation.ItemID = id

	if err := im.write(ctx, mutation); err != nil {
		return nil, err
	}

	return im.GetItem(id)
}

func (im *ItemManager) write(ctx context.Context, mutation *Mutation) error {
	im.RLock()
	w := im.writer
	im.RUnlock()

	if w == nil {
		return common.NewPreconditionErr("write", "item manager has no writer")
	}

	feedKey, seq, err := w.WriteMutation(ctx, mutation)
	if err != nil {
		return err
	}

	return w.WaitForMessage(ctx, feedKey, seq)
}

// GetItem returns a copy of the item.
func (im *ItemManager) GetItem(id string) (*Item, error) {
	im.RLock()
	defer im.RUnlock()

	item, ok := im.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item.clone(), nil
}

// Items returns a live view of the items that match filter, ordered by id.
// Since ids are ULIDs, this is creation order.
func (im *ItemManager) Items(filter Filter) *common.ResultSet[*Item] {
	return common.NewResultSet(im.trigger, func() []*Item {
		return im.query(filter)
	})
}

func (im *ItemManager) query(filter Filter) []*Item {
	im.RLock()
	defer im.RUnlock()

	res := []*Item{}
	for _, item := range im.items {
		if filter.Match(item) {
			res = append(res, item.clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

// Len returns the number of items.
func (im *ItemManager) Len() int {
	im.RLock()
	defer im.RUnlock()
	return len(im.items)
}

// ProcessMutation applies a dispatched mutation. Mutations for unknown models
// or unknown items are logged and dropped; they never stop the pipeline.
func (im *ItemManager) ProcessMutation(mutation *Mutation, meta Meta) {
	if mutation == nil || mutation.ItemID == "" {
		im.logger.WithField("feed", common.ShortKey(meta.FeedKey)).Warn("Mutation without item id")
		return
	}

	if !im.apply(mutation, meta) {
		return
	}

	im.trigger.Fire()
}

func (im *ItemManager) apply(mutation *Mutation, meta Meta) bool {
	im.Lock()
	defer im.Unlock()

	logger := im.logger.WithFields(logrus.Fields{
		"item": mutation.ItemID,
		"feed": common.ShortKey(meta.FeedKey),
		"seq":  meta.Seq,
	})

	item, ok := im.items[mutation.ItemID]

	if mutation.Genesis {
		if ok {
			logger.Debug("Item already exists")
			return false
		}

		m, err := im.registry.Get(mutation.ModelKind)
		if err != nil {
			logger.WithError(err).Warn("Cannot construct item")
			return false
		}

		item = &Item{
			ID:        mutation.ItemID,
			Type:      mutation.ItemType,
			ModelKind: mutation.ModelKind,
			Parent:    mutation.Parent,
			State:     m.NewState(),
		}
		m.Apply(item.State, mutation, meta)
		im.items[item.ID] = item

		logger.WithField("type", item.Type).Debug("Item created")
		return true
	}

	if !ok {
		logger.Warn("Mutation for unknown item")
		return false
	}

	m, err := im.registry.Get(item.ModelKind)
	if err != nil {
		logger.WithError(err).Warn("Cannot apply mutation")
		return false
	}
	m.Apply(item.State, mutation, meta)

	return true
}

// Snapshot serializes every item.
func (im *ItemManager) Snapshot() ([]ItemSnapshot, error) {
	im.RLock()
	defer im.RUnlock()

	res := make([]ItemSnapshot, 0, len(im.items))
	for _, item := range im.items {
		state, err := item.State.Marshal()
		if err != nil {
			return nil, err
		}
		res = append(res, ItemSnapshot{
			ID:        item.ID,
			Type:      item.Type,
			ModelKind: item.ModelKind,
			Parent:    item.Parent,
			State:     state,
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// Restore replaces the items with the content of a snapshot.
func (im *ItemManager) Restore(snapshot []ItemSnapshot) error {
	items := make(map[string]*Item, len(snapshot))

	for _, is := range snapshot {
		m, err := im.registry.Get(is.ModelKind)
		if err != nil {
			return err
		}
		state := m.NewState()
		if err := state.Unmarshal(is.State); err != nil {
			return err
		}
		items[is.ID] = &Item{
			ID:        is.ID,
			Type:      is.Type,
			ModelKind: is.ModelKind,
			Parent:    is.Parent,
			State:     state,
		}
	}

	im.Lock()
	im.items = items
	im.Unlock()

	im.trigger.Fire()

	return nil
}
