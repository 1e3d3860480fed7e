package pages

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
	"github.com/Truonghai2/BaultPHP-sub001/projections/pagelist"
)

const DefaultListLimit = 50

type (
	PageView struct {
		ID      string      `json:"id"`
		Version es.Version  `json:"version"`
		Status  page.Status `json:"status"`
		State   page.State  `json:"state"`
	}

	BlockView struct {
		ID      string          `json:"id"`
		Version es.Version      `json:"version"`
		State   page.BlockState `json:"state"`
	}

	// HistoryEntry is one decoded event of a stream.
	HistoryEntry struct {
		Seq          uint64      `json:"seq"`
		Version      es.Version  `json:"version"`
		Type         string      `json:"type"`
		EventVersion int         `json:"event_version"`
		OccurredAt   time.Time   `json:"occurred_at"`
		Metadata     es.Metadata `json:"metadata,omitempty"`
		Event        any         `json:"event"`
	}

	ListPagesInput struct {
		Status   page.Status `validate:"omitempty,oneof=draft published deleted"`
		AuthorID string      `validate:"omitempty,max=64"`
		// Limit defaults to DefaultListLimit.
		Limit  int `validate:"gte=0,lte=500"`
		Offset int `validate:"gte=0"`
	}
)

var ErrNoReadModel = errors.New("no page list read model configured")

// GetState replays a page. Concurrent reads of the same page share one load
// and a cached view is reused while the stream version is unchanged.
func (s *Service) GetState(ctx context.Context, pageID string) (PageView, error) {
	defer s.metrics.QueryDuration("get_state").ObserveDuration()

	v, _, err := s.states.Do(ctx, pageID, func(ctx context.Context) (PageView, error) {
		if cached, ok := s.views.Get(pageID); ok {
			current, err := s.env.Store().Version(ctx, page.AggType, pageID)
			if err != nil {
				return PageView{}, err
			}
			if current == cached.Version {
				return cached, nil
			}
		}
		p, err := s.pages.GetByID(ctx, pageID)
		if err != nil {
			return PageView{}, err
		}
		view := PageView{
			ID:      p.GetID(),
			Version: p.GetVersion(),
			Status:  p.Status(),
			State:   p.State(),
		}
		s.views.Put(pageID, view)
		return view, nil
	})
	if err != nil {
		return PageView{}, err
	}
	v.State.BlockIDs = slices.Clone(v.State.BlockIDs)
	return v, nil
}

func (s *Service) GetHistory(ctx context.Context, pageID string) ([]HistoryEntry, error) {
	defer s.metrics.QueryDuration("get_history").ObserveDuration()
	return history(s.pages.History(ctx, pageID))
}

func (s *Service) GetBlockState(ctx context.Context, blockID string) (BlockView, error) {
	defer s.metrics.QueryDuration("get_block_state").ObserveDuration()

	b, err := s.blocks.GetByID(ctx, blockID)
	if err != nil {
		return BlockView{}, err
	}
	return BlockView{ID: b.GetID(), Version: b.GetVersion(), State: b.State()}, nil
}

func (s *Service) GetBlockHistory(ctx context.Context, blockID string) ([]HistoryEntry, error) {
	defer s.metrics.QueryDuration("get_block_history").ObserveDuration()
	return history(s.blocks.History(ctx, blockID))
}

// ListPages reads the page_list projection. In async projection mode it may
// lag behind the event store.
func (s *Service) ListPages(ctx context.Context, in ListPagesInput) ([]pagelist.Row, error) {
	defer s.metrics.QueryDuration("list_pages").ObserveDuration()

	if s.list == nil {
		return nil, ErrNoReadModel
	}
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, inputError(err)
	}
	if in.Limit == 0 {
		in.Limit = DefaultListLimit
	}
	return s.list.List(ctx, pagelist.Filter{
		Status:   in.Status,
		AuthorID: in.AuthorID,
		Limit:    in.Limit,
		Offset:   in.Offset,
	})
}

func history(events []es.RecordedEvent, err error) ([]HistoryEntry, error) {
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(events))
	for _, e := range events {
		out = append(out, HistoryEntry{
			Seq:          e.Seq,
			Version:      e.Version,
			Type:         e.Type,
			EventVersion: e.EventVersion,
			OccurredAt:   e.OccurredAt,
			Metadata:     e.Metadata,
			Event:        e.Event,
		})
	}
	return out, nil
}
