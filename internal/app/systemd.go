package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindd/pkg/logx"
)

// sdNotify tells systemd about a state change. Outside a Type=notify unit
// it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify", logx.String("state", state))
	}
}
