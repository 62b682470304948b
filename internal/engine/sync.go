package engine

import (
	"context"
	"fmt"

	"github.com/roach88/hatdata/internal/entity"
)

// syncMirror pushes pending local edits to the remote, then replaces the
// local data set with the remote's.
func (e *Engine) syncMirror(ctx context.Context) error {
	if err := e.push(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// syncRemoteWithOffline reconciles after a disconnected period. Writes made
// while online went straight to the remote, so local pending changes are
// exactly the offline edits: they are pushed first, and the remote, which
// wins any conflict, is then pulled into local.
func (e *Engine) syncRemoteWithOffline(ctx context.Context) error {
	if err := e.push(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// push applies local pending entities to the remote and saves it. Deleted
// entities are deleted remotely, phantoms added without their id, and edited
// entities updated in place (or added when the remote lost them).
func (e *Engine) push(ctx context.Context) error {
	pending := e.local.GetPending()
	if len(pending) == 0 {
		return nil
	}
	if !e.remote.IsLoaded() {
		if err := e.remote.Load(ctx); err != nil {
			return fmt.Errorf("load remote: %w", err)
		}
	}

	for _, item := range pending {
		switch {
		case item.IsDeleted():
			if !item.IsPersisted() || item.IsPhantom() {
				continue
			}
			if re := e.remote.GetByID(item.ID()); re != nil && !re.IsDeleted() {
				if err := e.remote.Delete(ctx, re); err != nil {
					return fmt.Errorf("push delete %v: %w", item.ID(), err)
				}
			}

		case item.IsPhantom():
			data := item.GetRecord()
			entity.SetMappedValue(data, item.IDProperty().Mapping(), nil)
			if _, err := e.remote.Add(ctx, data); err != nil {
				return fmt.Errorf("push add: %w", err)
			}

		default:
			re := e.remote.GetByID(item.ID())
			if re == nil {
				if _, err := e.remote.Add(ctx, item.GetRecord()); err != nil {
					return fmt.Errorf("push add %v: %w", item.ID(), err)
				}
				continue
			}
			if err := re.SetValues(changedRawValues(item)); err != nil {
				return fmt.Errorf("push update %v: %w", item.ID(), err)
			}
			if item.IsStaged() {
				if err := re.MarkStaged(); err != nil {
					return err
				}
			}
		}
	}

	if err := e.remote.Save(ctx); err != nil {
		return fmt.Errorf("save remote: %w", err)
	}
	e.logger.Debug("pushed local changes", "mode", e.mode.String(), "count", len(pending))
	return nil
}

// changedRawValues returns the raw values of the properties that differ
// from the baseline, or all of them for a staged entity with no edits.
func changedRawValues(item *entity.Entity) map[string]any {
	raw := item.GetRawValues()
	changed := item.GetChanged()
	if len(changed) == 0 {
		return raw
	}
	out := make(map[string]any, len(changed))
	for _, name := range changed {
		out[name] = raw[name]
	}
	return out
}

// pull reloads the remote and makes its original data the local data set.
func (e *Engine) pull(ctx context.Context) error {
	if err := e.remote.Reload(ctx); err != nil {
		return fmt.Errorf("reload remote: %w", err)
	}
	if err := e.local.ReplaceData(ctx, e.remote.GetOriginalData()); err != nil {
		return fmt.Errorf("replace local: %w", err)
	}
	return nil
}

// unsyncedItems lists queued commands without a recorded response.
func (e *Engine) unsyncedItems() []*entity.Entity {
	var out []*entity.Entity
	for _, item := range e.local.All() {
		if item.IsDestroyed() || item.IsDeleted() {
			continue
		}
		resp, err := item.Get(PropResponse)
		if err == nil && resp == nil {
			out = append(out, item)
		}
	}
	return out
}

// syncCommands dispatches every unsynced queue item in order. The first
// failure stops the pass; items already dispatched keep their responses.
func (e *Engine) syncCommands(ctx context.Context) error {
	items := e.unsyncedItems()
	for _, item := range items {
		if err := e.dispatch(ctx, item); err != nil {
			return err
		}
	}
	if len(items) > 0 {
		e.logger.Debug("dispatched commands", "count", len(items))
	}
	return nil
}

// dispatch sends one queue item to the remote as {command, ...payload},
// loads the remote's answer into the item's response, runs the command's
// handlers and saves the item. The item keeps its identity throughout.
func (e *Engine) dispatch(ctx context.Context, item *entity.Entity) error {
	raw, _ := item.Get(PropCommand)
	name, _ := raw.(string)
	cmd := e.commands[name]
	if cmd == nil {
		return NewUnknownCommandError(name, item.ID())
	}
	if !cmd.HasHandlers() {
		return NewNoHandlersError(name, item.ID())
	}

	data := map[string]any{}
	if payload, _ := item.Get(PropPayload); payload != nil {
		if m, ok := payload.(map[string]any); ok {
			for k, v := range m {
				data[k] = v
			}
		}
	}
	data[PropCommand] = name

	sent, err := e.remote.Add(ctx, data)
	if err == nil && !sent.IsPersisted() {
		err = e.remote.SaveEntity(ctx, sent)
	}
	if err != nil {
		if sent != nil {
			e.remote.RemoveEntity(sent)
			sent.Destroy()
		}
		return fmt.Errorf("dispatch %s %v: %w", name, item.ID(), err)
	}
	response := sent.GetOriginalData()
	e.remote.RemoveEntity(sent)
	sent.Destroy()

	record := item.GetRecord()
	respProp, err := item.Property(PropResponse)
	if err != nil {
		return err
	}
	entity.SetMappedValue(record, respProp.Mapping(), response)
	if err := item.LoadOriginalData(record); err != nil {
		return fmt.Errorf("load response for %v: %w", item.ID(), err)
	}

	handled, err := cmd.ProcessResponse(ctx, item)
	if err != nil {
		e.logger.Warn("command handler failed", "command", name, "entity_id", item.ID(), "error", err)
	}
	e.logger.Debug("command dispatched",
		"command", name,
		"entity_id", item.ID(),
		"handled", handled,
		"message", ResponseMessage(item),
	)

	if err := e.local.SaveEntity(ctx, item); err != nil {
		return fmt.Errorf("save %s %v: %w", name, item.ID(), err)
	}
	return nil
}
