package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/schema"
)

// Command queue item properties.
const (
	PropID        = "id"
	PropCommand   = "command"
	PropPayload   = "payload"
	PropResponse  = "response"
	PropIsHandled = "isHandled"
	PropIsErrored = "isErrored"
	PropDate      = "date"
)

// StatusOK is the response status a successful command carries.
const StatusOK = "OK"

// Handler inspects a synchronized queue item whose response has been loaded.
// It reports whether the item was handled successfully.
type Handler func(ctx context.Context, item *entity.Entity) (bool, error)

// Command is a named outbound operation with the handlers that process its
// responses.
type Command struct {
	name     string
	handlers []Handler
}

// NewCommand creates a command with optional handlers.
func NewCommand(name string, handlers ...Handler) *Command {
	return &Command{name: name, handlers: handlers}
}

func (c *Command) Name() string { return c.name }

// RegisterHandler appends a response handler.
func (c *Command) RegisterHandler(h Handler) {
	c.handlers = append(c.handlers, h)
}

// HasHandlers reports whether any handler is registered.
func (c *Command) HasHandlers() bool { return len(c.handlers) > 0 }

// ProcessResponse runs every handler against item. The result is true only
// when every handler succeeded; handler errors are joined.
func (c *Command) ProcessResponse(ctx context.Context, item *entity.Entity) (bool, error) {
	ok := true
	var errs []error
	for i, h := range c.handlers {
		handled, err := h(ctx, item)
		if err != nil {
			errs = append(errs, fmt.Errorf("command %s handler %d: %w", c.name, i, err))
		}
		ok = ok && handled && err == nil
	}
	return ok, errors.Join(errs...)
}

// DefaultHandler marks the item handled when its response carries status
// "OK", and errored otherwise, including when there is no response.
func DefaultHandler(_ context.Context, item *entity.Entity) (bool, error) {
	resp, err := item.Get(PropResponse)
	if err != nil {
		return false, err
	}
	status := ""
	if m, ok := resp.(map[string]any); ok {
		status, _ = m["status"].(string)
	}
	handled := status == StatusOK
	if err := item.SetValues(map[string]any{
		PropIsHandled: handled,
		PropIsErrored: !handled,
	}); err != nil {
		return false, err
	}
	return handled, nil
}

// ResponseMessage returns the optional message of an item's response.
func ResponseMessage(item *entity.Entity) string {
	resp, _ := item.Get(PropResponse)
	if m, ok := resp.(map[string]any); ok {
		msg, _ := m["message"].(string)
		return msg
	}
	return ""
}

// CommandQueueSchema returns the schema of a local command queue: one item
// per outbound command with its payload, the response once synchronized,
// and the handled/errored outcome.
func CommandQueueSchema(name string) *schema.Schema {
	return &schema.Schema{
		Name: name,
		Model: schema.Model{
			IDProperty:      PropID,
			DisplayProperty: PropCommand,
			Properties: []property.Definition{
				{Name: PropID, Type: property.TypeInt},
				{Name: PropCommand, Type: property.TypeString},
				{Name: PropPayload, Type: property.TypeJSON},
				{Name: PropResponse, Type: property.TypeJSON},
				{Name: PropIsHandled, Type: property.TypeBool, DefaultValue: false},
				{Name: PropIsErrored, Type: property.TypeBool, DefaultValue: false},
				{Name: PropDate, Type: property.TypeDateTime},
			},
			Sorters: []schema.SorterConfig{{Name: PropID}},
		},
	}
}

// CommandEndpointSchema returns a schema for the remote side of a command
// queue: the outbound item is flattened to {command, ...payload}, and the
// endpoint's answer carries status and message.
func CommandEndpointSchema(name string, payload ...property.Definition) *schema.Schema {
	props := []property.Definition{
		{Name: PropID, Type: property.TypeInt},
		{Name: PropCommand, Type: property.TypeString},
		{Name: "status", Type: property.TypeString},
		{Name: "message", Type: property.TypeString},
	}
	props = append(props, payload...)
	return &schema.Schema{
		Name: name,
		Model: schema.Model{
			IDProperty:      PropID,
			DisplayProperty: PropCommand,
			Properties:      props,
		},
	}
}
