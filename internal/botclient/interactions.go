package botclient

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// InteractionTTL bounds how long a condition picker stays usable.
const InteractionTTL = 10 * time.Minute

// Action is what a confirmed interaction submits.
type Action string

const (
	ActionApply Action = "apply"
	ActionHold  Action = "hold"
)

var (
	// ErrInteractionExpired covers both unknown and stale interactions.
	ErrInteractionExpired = errors.New("botclient: interaction expired")
	ErrNothingSelected    = errors.New("botclient: at least one condition must be selected")
	ErrConditionIndex     = errors.New("botclient: condition index out of range")
)

// Interaction is a Discord user's in-progress condition selection for one box.
type Interaction struct {
	BoxID      uint
	Action     Action
	Conditions []string
	Selected   []int
	StartedAt  time.Time
}

// SelectedConditions returns the text of the selected conditions in selection order.
func (i Interaction) SelectedConditions() []string {
	texts := make([]string, 0, len(i.Selected))
	for _, index := range i.Selected {
		if index >= 0 && index < len(i.Conditions) {
			texts = append(texts, i.Conditions[index])
		}
	}
	return texts
}

func (i Interaction) clone() Interaction {
	i.Conditions = append([]string(nil), i.Conditions...)
	i.Selected = append([]int(nil), i.Selected...)
	return i
}

// InteractionStore keeps one pending interaction per Discord user.
type InteractionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]Interaction
}

// NewInteractionStore constructs an empty store. A zero ttl selects InteractionTTL.
func NewInteractionStore(ttl time.Duration, clock func() time.Time) *InteractionStore {
	if ttl <= 0 {
		ttl = InteractionTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &InteractionStore{ttl: ttl, clock: clock, entries: make(map[string]Interaction)}
}

// Start replaces any interaction the user had open.
func (s *InteractionStore) Start(discordUserID string, boxID uint, action Action, conditions []string) Interaction {
	interaction := Interaction{
		BoxID:      boxID,
		Action:     action,
		Conditions: append([]string(nil), conditions...),
		StartedAt:  s.clock(),
	}
	s.mu.Lock()
	s.entries[discordUserID] = interaction
	s.mu.Unlock()
	return interaction.clone()
}

// Get returns the live interaction of a user.
func (s *InteractionStore) Get(discordUserID string) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	interaction, err := s.liveLocked(discordUserID)
	if err != nil {
		return Interaction{}, err
	}
	return interaction.clone(), nil
}

// Toggle flips the selection of one condition.
func (s *InteractionStore) Toggle(discordUserID string, index int) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	interaction, err := s.liveLocked(discordUserID)
	if err != nil {
		return Interaction{}, err
	}
	if index < 0 || index >= len(interaction.Conditions) {
		return Interaction{}, ErrConditionIndex
	}

	selected := make([]int, 0, len(interaction.Selected)+1)
	removed := false
	for _, existing := range interaction.Selected {
		if existing == index {
			removed = true
			continue
		}
		selected = append(selected, existing)
	}
	if !removed {
		selected = append(selected, index)
	}
	interaction.Selected = selected
	s.entries[discordUserID] = interaction
	return interaction.clone(), nil
}

// Confirm ends the interaction and returns it with the selected condition text. An empty
// selection leaves the interaction open.
func (s *InteractionStore) Confirm(discordUserID string) (Interaction, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	interaction, err := s.liveLocked(discordUserID)
	if err != nil {
		return Interaction{}, nil, err
	}
	if len(interaction.Selected) == 0 {
		return Interaction{}, nil, ErrNothingSelected
	}
	delete(s.entries, discordUserID)
	return interaction.clone(), interaction.SelectedConditions(), nil
}

// Cancel drops the user's interaction and reports whether one was open.
func (s *InteractionStore) Cancel(discordUserID string) (Interaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	interaction, err := s.liveLocked(discordUserID)
	delete(s.entries, discordUserID)
	if err != nil {
		return Interaction{}, false
	}
	return interaction, true
}

// Sweep removes expired interactions and returns how many were dropped.
func (s *InteractionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	removed := 0
	for userID, interaction := range s.entries {
		if now.Sub(interaction.StartedAt) > s.ttl {
			delete(s.entries, userID)
			removed++
		}
	}
	return removed
}

// Users lists the Discord ids with an open interaction, sorted.
func (s *InteractionStore) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for userID := range s.entries {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

func (s *InteractionStore) liveLocked(discordUserID string) (Interaction, error) {
	interaction, ok := s.entries[discordUserID]
	if !ok {
		return Interaction{}, ErrInteractionExpired
	}
	if s.clock().Sub(interaction.StartedAt) > s.ttl {
		delete(s.entries, discordUserID)
		return Interaction{}, ErrInteractionExpired
	}
	return interaction, nil
}
