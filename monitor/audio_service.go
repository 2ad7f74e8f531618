package monitor

import (
	"bytes"
	"os/exec"

	"github.com/elijahnyp/theater_controller/cec"
	"github.com/elijahnyp/theater_controller/util"
)

// AudioService restarts the user's audio server after the adapter regains
// a logical address, since the server drops its CEC-backed sink otherwise.
type AudioService struct {
	Name string
	// run executes a command and returns its stdout.
	run func(name string, args ...string) ([]byte, error)
}

func NewAudioService(name string) *AudioService {
	return &AudioService{Name: name, run: runCommand}
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Ensure starts the service unless systemd already reports it active.
// It matches the OnAddress hook signature.
func (s *AudioService) Ensure(cec.LogicalAddress) {
	log := util.Component("monitor")
	out, _ := s.run("systemctl", "--user", "is-active", s.Name)
	if bytes.Equal(bytes.TrimSpace(out), []byte("active")) {
		log.Debug().Msgf("%s already active", s.Name)
		return
	}
	log.Info().Msgf("starting %s", s.Name)
	if _, err := s.run("systemctl", "--user", "start", s.Name); err != nil {
		log.Error().Err(err).Msgf("failed to start %s", s.Name)
	}
}
