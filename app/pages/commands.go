package pages

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
)

type (
	CreatePageInput struct {
		// ID is generated when empty.
		ID       string `validate:"omitempty,max=64"`
		Name     string `validate:"required,max=255"`
		Slug     string `validate:"omitempty,max=255,slug"`
		AuthorID string `validate:"required,max=64"`
		Content  string
	}

	RenamePageInput struct {
		PageID string `validate:"required"`
		Name   string `validate:"required,max=255"`
	}

	ChangeSlugInput struct {
		PageID string `validate:"required"`
		Slug   string `validate:"required,max=255,slug"`
	}

	UpdateContentInput struct {
		PageID  string `validate:"required"`
		Content string
	}

	// PageInput addresses a page for the lifecycle commands.
	PageInput struct {
		PageID string `validate:"required"`
	}

	AddBlockInput struct {
		PageID string `validate:"required"`
		// BlockID is generated when empty.
		BlockID   string `validate:"omitempty,max=64"`
		Component string `validate:"required,max=128"`
		SortOrder int    `validate:"gte=0"`
		Content   string
	}

	UpdateBlockContentInput struct {
		BlockID string `validate:"required"`
		Content string
	}

	ChangeBlockOrderInput struct {
		BlockID   string `validate:"required"`
		SortOrder int    `validate:"gte=0"`
	}

	ReorderBlocksInput struct {
		PageID   string   `validate:"required"`
		BlockIDs []string `validate:"dive,required"`
	}

	BlockInput struct {
		BlockID string `validate:"required"`
	}

	DuplicateBlockInput struct {
		BlockID string `validate:"required"`
		// NewBlockID is generated when empty.
		NewBlockID string `validate:"omitempty,max=64"`
	}
)

// === Page commands ===

// CreatePage creates a draft page and returns its id. The slug is derived
// from the name when empty.
func (s *Service) CreatePage(ctx context.Context, in CreatePageInput) (id string, err error) {
	err = s.exec(ctx, "create_page", in, func(ctx context.Context) error {
		id = in.ID
		if id == "" {
			id = s.newID()
		}
		_, err := s.pages.WithTransaction(ctx, id, func(p *page.Page) error {
			return p.Create(in.Name, in.Slug, in.AuthorID, in.Content, s.now())
		}, s.txOpts(true)...)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) RenamePage(ctx context.Context, in RenamePageInput) error {
	return s.exec(ctx, "rename_page", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.Rename(in.Name, s.now()) })
	})
}

func (s *Service) ChangeSlug(ctx context.Context, in ChangeSlugInput) error {
	return s.exec(ctx, "change_slug", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.ChangeSlug(in.Slug, s.now()) })
	})
}

func (s *Service) UpdateContent(ctx context.Context, in UpdateContentInput) error {
	return s.exec(ctx, "update_content", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.UpdateContent(in.Content, s.now()) })
	})
}

func (s *Service) Publish(ctx context.Context, in PageInput) error {
	return s.exec(ctx, "publish", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.Publish(s.now()) })
	})
}

func (s *Service) Unpublish(ctx context.Context, in PageInput) error {
	return s.exec(ctx, "unpublish", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.Unpublish(s.now()) })
	})
}

func (s *Service) DeletePage(ctx context.Context, in PageInput) error {
	return s.exec(ctx, "delete_page", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.Delete(s.now()) })
	})
}

// RestorePage brings a deleted page back as a draft.
func (s *Service) RestorePage(ctx context.Context, in PageInput) error {
	return s.exec(ctx, "restore_page", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.Restore(s.now()) })
	})
}

func (s *Service) ReorderBlocks(ctx context.Context, in ReorderBlocksInput) error {
	return s.exec(ctx, "reorder_blocks", in, func(ctx context.Context) error {
		return s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.ReorderBlocks(in.BlockIDs, s.now()) })
	})
}

// === Block commands ===

// livePage loads the page a block command attaches to and fails unless
// blocks can be attached to it.
func (s *Service) livePage(ctx context.Context, pageID, op string) error {
	p, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return err
	}
	if p.IsDeleted() {
		return es.NewInvariantError(p, op, "page is deleted")
	}
	return nil
}

// AddBlock creates a block and attaches it to the end of its page. It
// returns the block id.
func (s *Service) AddBlock(ctx context.Context, in AddBlockInput) (id string, err error) {
	err = s.exec(ctx, "add_block", in, func(ctx context.Context) error {
		if err := s.livePage(ctx, in.PageID, "attach block"); err != nil {
			return err
		}
		id = in.BlockID
		if id == "" {
			id = s.newID()
		}
		_, err := s.blocks.WithTransaction(ctx, id, func(b *page.Block) error {
			return b.Create(in.PageID, in.Component, in.SortOrder, in.Content, s.now())
		}, s.txOpts(true)...)
		if err != nil {
			return err
		}
		err = s.onPage(ctx, in.PageID, func(p *page.Page) error { return p.AttachBlock(id, s.now()) })
		if err != nil {
			s.discardBlock(ctx, id, err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// compensate runs undo for a command that failed part way. It outlives the
// cancellation of ctx and only logs its own failure.
func (s *Service) compensate(ctx context.Context, action string, cause error, undo func(ctx context.Context) error) {
	log := s.log.With(slog.String("action", action), slog.Any("cause", cause))
	if err := undo(context.WithoutCancel(ctx)); err != nil {
		log.Error("compensation failed", slog.Any("error", err))
		return
	}
	log.Warn("compensated failed command")
}

// discardBlock deletes a block whose page rejected it.
func (s *Service) discardBlock(ctx context.Context, id string, cause error) {
	s.compensate(ctx, "discard block "+id, cause, func(ctx context.Context) error {
		return s.onBlock(ctx, id, func(b *page.Block) error { return b.Delete(s.now()) })
	})
}

// blockIDFree fails unless no block stream exists under id.
func (s *Service) blockIDFree(ctx context.Context, src *page.Block, id string) error {
	v, err := s.env.Store().Version(ctx, page.BlockAggType, id)
	if err != nil {
		return err
	}
	if v > 0 {
		return es.NewInvariantError(src, "duplicate block", fmt.Sprintf("block %s already exists", id))
	}
	return nil
}

func (s *Service) UpdateBlockContent(ctx context.Context, in UpdateBlockContentInput) error {
	return s.exec(ctx, "update_block_content", in, func(ctx context.Context) error {
		return s.onBlock(ctx, in.BlockID, func(b *page.Block) error { return b.UpdateContent(in.Content, s.now()) })
	})
}

func (s *Service) ChangeBlockOrder(ctx context.Context, in ChangeBlockOrderInput) error {
	return s.exec(ctx, "change_block_order", in, func(ctx context.Context) error {
		return s.onBlock(ctx, in.BlockID, func(b *page.Block) error { return b.ChangeOrder(in.SortOrder, s.now()) })
	})
}

// RemoveBlock deletes a block and detaches it from its page unless the page
// itself is deleted.
func (s *Service) RemoveBlock(ctx context.Context, in BlockInput) error {
	return s.exec(ctx, "remove_block", in, func(ctx context.Context) error {
		var pageID string
		err := s.onBlock(ctx, in.BlockID, func(b *page.Block) error {
			pageID = b.PageID()
			return b.Delete(s.now())
		})
		if err != nil {
			return err
		}
		return s.onPage(ctx, pageID, func(p *page.Page) error {
			if p.IsDeleted() {
				return nil
			}
			return p.DetachBlock(in.BlockID, s.now())
		})
	})
}

// RestoreBlock restores a deleted block and attaches it to its page again.
// The page must not be deleted. If the page rejects the block it is deleted
// again.
func (s *Service) RestoreBlock(ctx context.Context, in BlockInput) error {
	return s.exec(ctx, "restore_block", in, func(ctx context.Context) error {
		b, err := s.blocks.GetByID(ctx, in.BlockID)
		if err != nil {
			return err
		}
		if err := s.livePage(ctx, b.PageID(), "restore block"); err != nil {
			return err
		}
		wasDeleted := b.IsDeleted()
		if err := s.onBlock(ctx, in.BlockID, func(b *page.Block) error { return b.Restore(s.now()) }); err != nil {
			return err
		}
		err = s.onPage(ctx, b.PageID(), func(p *page.Page) error {
			if p.HasBlock(in.BlockID) {
				return nil
			}
			return p.AttachBlock(in.BlockID, s.now())
		})
		if err != nil && wasDeleted {
			s.discardBlock(ctx, in.BlockID, err)
		}
		return err
	})
}

// DuplicateBlock copies a block, records the lineage on both blocks and
// places the copy right after its source on the page. It returns the id of
// the copy. The copy is stored first; when a later step fails it is deleted
// and detached again.
func (s *Service) DuplicateBlock(ctx context.Context, in DuplicateBlockInput) (id string, err error) {
	err = s.exec(ctx, "duplicate_block", in, func(ctx context.Context) error {
		id = in.NewBlockID
		if id == "" {
			id = s.newID()
		}
		src, err := s.blocks.GetByID(ctx, in.BlockID)
		if err != nil {
			return err
		}
		if err := s.livePage(ctx, src.PageID(), "duplicate block"); err != nil {
			return err
		}
		if err := s.blockIDFree(ctx, src, id); err != nil {
			return err
		}
		dup, err := src.CopyAs(id, s.now())
		if err != nil {
			return err
		}
		if err := s.blocks.Save(ctx, dup); err != nil {
			if es.IsConflict(err) {
				// created concurrently under the same id
				return es.NewInvariantError(src, "duplicate block", fmt.Sprintf("block %s already exists", id))
			}
			return err
		}

		err = s.onPage(ctx, src.PageID(), func(p *page.Page) error {
			if err := p.AttachBlock(id, s.now()); err != nil {
				return err
			}
			if !p.HasBlock(in.BlockID) {
				return nil
			}
			return p.ReorderBlocks(insertAfter(p.State().BlockIDs, in.BlockID, id), s.now())
		})
		if err != nil {
			s.discardBlock(ctx, id, err)
			return err
		}

		err = s.onBlock(ctx, in.BlockID, func(b *page.Block) error { return b.RecordCopy(id, s.now()) })
		if err != nil {
			s.discardBlock(ctx, id, err)
			s.compensate(ctx, "detach block "+id, err, func(ctx context.Context) error {
				return s.onPage(ctx, src.PageID(), func(p *page.Page) error { return p.DetachBlock(id, s.now()) })
			})
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// insertAfter moves id directly behind anchor in ids.
func insertAfter(ids []string, anchor, id string) []string {
	out := slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id })
	i := slices.Index(out, anchor)
	return slices.Insert(out, i+1, id)
}
