package commands

import (
	"github.com/goliatone/go-errors"
)

// GenerateCommand runs a stored workflow on the engine and tracks it to
// completion.
type GenerateCommand struct {
	OwnerID  string `json:"owner_id"`
	Workflow string `json:"workflow"`
	// ClientID pins the tracking socket identity; empty means generated.
	ClientID string `json:"client_id,omitempty"`
}

func (c GenerateCommand) Type() string { return "generate.run" }

func (c GenerateCommand) Validate() error {
	if c.OwnerID == "" {
		return errors.New("owner id is required", errors.CategoryValidation).
			WithTextCode("MISSING_OWNER")
	}
	return nil
}

// InterruptCommand stops the currently running prompt.
type InterruptCommand struct{}

func (c InterruptCommand) Type() string    { return "engine.interrupt" }
func (c InterruptCommand) Validate() error { return nil }

// ClearQueueCommand drops every queued prompt.
type ClearQueueCommand struct{}

func (c ClearQueueCommand) Type() string    { return "queue.clear" }
func (c ClearQueueCommand) Validate() error { return nil }

// QueueStateQuery reads the engine queue as a normalized snapshot.
type QueueStateQuery struct{}

func (q QueueStateQuery) Type() string    { return "queue.state" }
func (q QueueStateQuery) Validate() error { return nil }

// ListModelsQuery lists model filenames for one model type.
type ListModelsQuery struct {
	ModelType string `json:"model_type"`
	Refresh   bool   `json:"refresh,omitempty"`
}

func (q ListModelsQuery) Type() string { return "models.list" }

func (q ListModelsQuery) Validate() error {
	if q.ModelType == "" {
		return errors.New("model type is required", errors.CategoryValidation).
			WithTextCode("MISSING_MODEL_TYPE")
	}
	return nil
}

// TemplatesQuery lists the workflow templates the engine offers.
type TemplatesQuery struct {
	Refresh bool `json:"refresh,omitempty"`
}

func (q TemplatesQuery) Type() string    { return "templates.list" }
func (q TemplatesQuery) Validate() error { return nil }

// HistoryQuery reads an owner's recent run history.
type HistoryQuery struct {
	OwnerID string `json:"owner_id"`
	Limit   int    `json:"limit,omitempty"`
}

func (q HistoryQuery) Type() string { return "history.recent" }

func (q HistoryQuery) Validate() error {
	if q.OwnerID == "" {
		return errors.New("owner id is required", errors.CategoryValidation).
			WithTextCode("MISSING_OWNER")
	}
	return nil
}

// GalleryQuery lists recently produced output images.
type GalleryQuery struct {
	Limit int `json:"limit,omitempty"`
}

func (q GalleryQuery) Type() string    { return "gallery.recent" }
func (q GalleryQuery) Validate() error { return nil }

// OpenViewerCommand mints a viewer session for a stored workflow and
// returns the link to open.
type OpenViewerCommand struct {
	OwnerID  string `json:"owner_id"`
	Workflow string `json:"workflow"`
}

func (c OpenViewerCommand) Type() string { return "viewer.open" }

func (c OpenViewerCommand) Validate() error {
	if c.OwnerID == "" {
		return errors.New("owner id is required", errors.CategoryValidation).
			WithTextCode("MISSING_OWNER")
	}
	return nil
}
