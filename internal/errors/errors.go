// internal/errors/errors.go
package appErrors

import (
    "errors"
    "fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
    CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

// ErrClaimHeld is returned when another invocation holds the processing
// claim for a campaign. Expected under concurrent triggers, not a fault.
var ErrClaimHeld = errors.New("campaign claim held by another invocation")

// ErrDispatcherUnavailable means the dispatch transport could not be
// reached at all this cycle. The campaign is retried on the next trigger.
var ErrDispatcherUnavailable = errors.New("dispatcher unavailable")

// ErrInvalidCampaignConfig marks an unrecoverable configuration problem;
// the campaign is moved to the failed status with a reason.
type ErrInvalidCampaignConfig struct {
    CampaignID int64
    Reason     string
}

func (e *ErrInvalidCampaignConfig) Error() string {
    return fmt.Sprintf("campaign %d has invalid configuration: %s", e.CampaignID, e.Reason)
}

func NewInvalidCampaignConfig(id int64, reason string) error {
    return &ErrInvalidCampaignConfig{CampaignID: id, Reason: reason}
}
