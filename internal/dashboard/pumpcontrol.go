package dashboard

import (
	"context"
	"fmt"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// PumpCommander switches pumps on the backend. *thingsboard.Client
// implements it.
type PumpCommander interface {
	SetPumpStatus(ctx context.Context, deviceID string, status thingsboard.PumpStatus) error
}

// PumpControl sends pump commands and reflects them in State without
// waiting for the next refresh.
type PumpControl struct {
	cmd   PumpCommander
	state *State
}

// NewPumpControl wires a commander to a state.
func NewPumpControl(cmd PumpCommander, state *State) *PumpControl {
	return &PumpControl{cmd: cmd, state: state}
}

// SetPump sends the command first. The overlay is applied only when the
// backend accepted it; on failure State is untouched and the error is
// wrapped and returned.
func (pc *PumpControl) SetPump(ctx context.Context, deviceID string, status thingsboard.PumpStatus) error {
	if err := pc.cmd.SetPumpStatus(ctx, deviceID, status); err != nil {
		return fmt.Errorf("setting pump %s %s: %w", deviceID, status, err)
	}
	pc.state.SetPumpStatus(deviceID, string(status))
	return nil
}
