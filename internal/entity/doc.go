// Package entity exposes a CMV unit to the host automation platform as a
// small set of entities: one fan, one panel LED switch, three read-only
// sensors and a filter reset button.
//
// Entities read from the polling coordinator's latest snapshot and drive
// the device client for control actions. A successful action requests an
// out-of-schedule refresh so the next snapshot reflects the change; a
// failed action is logged and returned as ErrActionFailed. Neither outcome
// changes the coordinator's availability.
//
// Usage:
//
//	unit := entity.NewUnit(client, coordinator, entity.Options{
//	    Recorder: auditRepo,
//	    Logger:   log,
//	})
//	err := unit.Fan().SetPreset(entity.WithSource(ctx, "api"), "boost")
package entity
