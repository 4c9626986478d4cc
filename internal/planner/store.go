package planner

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/storage"
)

// Store persists trade plans through their lifecycle.
type Store struct {
	store *storage.JSONStore
	log   zerolog.Logger
}

type planState struct {
	Plans map[string]domain.TradePlan `json:"plans"`
}

// NewStore opens the plan store at path.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	js, err := storage.NewJSONStore(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		store: js,
		log:   log.With().Str("component", "planstore").Logger(),
	}, nil
}

// Save upserts a plan.
func (s *Store) Save(plan *domain.TradePlan) error {
	var st planState
	return s.store.Update(&st, func(bool) (interface{}, error) {
		if st.Plans == nil {
			st.Plans = make(map[string]domain.TradePlan)
		}
		st.Plans[plan.ID] = *plan
		return &st, nil
	})
}

// Get returns a plan by id.
func (s *Store) Get(id string) (*domain.TradePlan, error) {
	var st planState
	loaded, err := s.store.Load(&st)
	if err != nil {
		return nil, err
	}
	if !loaded {
		return nil, fmt.Errorf("plan %s not found", id)
	}
	plan, ok := st.Plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s not found", id)
	}
	return &plan, nil
}

// SetStatus transitions a plan's lifecycle state, recording the broker
// order id when one exists.
func (s *Store) SetStatus(id string, status domain.PlanStatus, orderID string) error {
	var st planState
	return s.store.Update(&st, func(bool) (interface{}, error) {
		plan, ok := st.Plans[id]
		if !ok {
			return nil, fmt.Errorf("plan %s not found", id)
		}
		plan.Status = status
		if orderID != "" {
			plan.OrderID = orderID
		}
		st.Plans[id] = plan
		return &st, nil
	})
}

// LatestExecuted returns the newest executed plan for the symbol. Broker
// positions carry no levels, so exit monitoring recovers stop and targets
// from the plan that opened them.
func (s *Store) LatestExecuted(symbol string) (*domain.TradePlan, error) {
	var st planState
	if _, err := s.store.Load(&st); err != nil {
		return nil, err
	}
	var latest *domain.TradePlan
	for _, plan := range st.Plans {
		if plan.Symbol != symbol || plan.Status != domain.PlanExecuted {
			continue
		}
		p := plan
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = &p
		}
	}
	return latest, nil
}

// ByStatus lists plans in a lifecycle state, newest first.
func (s *Store) ByStatus(status domain.PlanStatus) ([]domain.TradePlan, error) {
	var st planState
	if _, err := s.store.Load(&st); err != nil {
		return nil, err
	}
	var plans []domain.TradePlan
	for _, plan := range st.Plans {
		if plan.Status == status {
			plans = append(plans, plan)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
	return plans, nil
}
