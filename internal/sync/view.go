package sync

import (
	"sort"
	"sync"

	"github.com/converse-im/converse/internal/messaging"
)

// ConversationView is one row of the materialized conversation list.
type ConversationView struct {
	ID          string
	Kind        messaging.Kind
	Name        string
	Description string
	ImageURL    string
	MemberIDs   []string
	MemberCount int
	// LastText is the newest displayable text in the preview window;
	// LastTextAt is its send time in nanoseconds, 0 when there is none.
	LastText   string
	LastTextAt int64
	// Handle is the backing conversation. Nil for rows restored from the
	// cache before the first catch-up sync.
	Handle messaging.Conversation
}

// View is the in-memory materialized state for one session. Conversation
// rows are unique by id and kept sorted; message lists are unique by id and
// kept in arrival order. Discarded wholesale on session switch.
type View struct {
	mu    sync.Mutex
	order []*ConversationView
	index map[string]*ConversationView
	msgs  map[string][]messaging.Message
	seen  map[string]map[string]struct{}
	last  *messaging.Message
}

// NewView creates an empty view.
func NewView() *View {
	return &View{
		index: make(map[string]*ConversationView),
		msgs:  make(map[string][]messaging.Message),
		seen:  make(map[string]map[string]struct{}),
	}
}

// sortViews orders rows by preview time descending, rows without a preview
// last, ties kept in input order.
func sortViews(views []*ConversationView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.LastTextAt == 0 {
			return false
		}
		if b.LastTextAt == 0 {
			return true
		}
		return a.LastTextAt > b.LastTextAt
	})
}

// ReplaceConversations swaps the conversation set atomically. Duplicate ids
// in the input collapse to the first occurrence. Message lists for
// conversations that disappeared are retained; stale is preferred to empty.
func (v *View) ReplaceConversations(views []*ConversationView) {
	unique := make([]*ConversationView, 0, len(views))
	index := make(map[string]*ConversationView, len(views))
	for _, cv := range views {
		if _, ok := index[cv.ID]; ok {
			continue
		}
		index[cv.ID] = cv
		unique = append(unique, cv)
	}
	sortViews(unique)

	v.mu.Lock()
	v.order = unique
	v.index = index
	v.mu.Unlock()
}

// Conversations returns the sorted conversation rows.
func (v *View) Conversations() []ConversationView {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ConversationView, len(v.order))
	for i, cv := range v.order {
		out[i] = *cv
	}
	return out
}

// Get returns one conversation row by id.
func (v *View) Get(id string) (ConversationView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cv, ok := v.index[id]
	if !ok {
		return ConversationView{}, false
	}
	return *cv, true
}

// AppendMessage appends a live message at the position received. Reports
// false when the id was already present; duplicate delivery never grows the
// list. Out-of-order arrivals are not re-sorted by timestamp.
func (v *View) AppendMessage(m messaging.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := v.seen[m.ConversationID]
	if ids == nil {
		ids = make(map[string]struct{})
		v.seen[m.ConversationID] = ids
	}
	if _, dup := ids[m.ID]; dup {
		return false
	}
	ids[m.ID] = struct{}{}
	v.msgs[m.ConversationID] = append(v.msgs[m.ConversationID], m)
	return true
}

// ReplaceMessages swaps a conversation's message list atomically. Duplicate
// ids in the input collapse to the first occurrence.
func (v *View) ReplaceMessages(conversationID string, msgs []messaging.Message) {
	unique := make([]messaging.Message, 0, len(msgs))
	ids := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		unique = append(unique, m)
	}

	v.mu.Lock()
	v.msgs[conversationID] = unique
	v.seen[conversationID] = ids
	v.mu.Unlock()
}

// Messages returns a conversation's message list in arrival order.
func (v *View) Messages(conversationID string) []messaging.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	msgs := v.msgs[conversationID]
	out := make([]messaging.Message, len(msgs))
	copy(out, msgs)
	return out
}

// SetLastSeen records the newest item observed on the global stream.
func (v *View) SetLastSeen(m messaging.Message) {
	v.mu.Lock()
	v.last = &m
	v.mu.Unlock()
}

// LastSeen returns the newest globally observed message, or nil.
func (v *View) LastSeen() *messaging.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil {
		return nil
	}
	m := *v.last
	return &m
}
