package relay

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SispmController drives a USB power strip through the sispmctl tool.
type SispmController struct {
	Binary string
	run    func(name string, args ...string) ([]byte, error)
}

func NewSispmController(binary string) *SispmController {
	return &SispmController{
		Binary: binary,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

func (s *SispmController) Status(outlet int) (bool, error) {
	if err := checkOutlet(outlet); err != nil {
		return false, err
	}
	out, err := s.run(s.Binary, "-q", "-n", "-g", strconv.Itoa(outlet))
	if err != nil {
		return false, fmt.Errorf("sispmctl status %d: %v: %s", outlet, err, strings.TrimSpace(string(out)))
	}
	switch strings.TrimSpace(string(out)) {
	case "1", "on":
		return true, nil
	case "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("sispmctl status %d: unexpected output %q", outlet, out)
}

func (s *SispmController) Set(outlet int, on bool) error {
	if err := checkOutlet(outlet); err != nil {
		return err
	}
	flag := "-f"
	if on {
		flag = "-o"
	}
	if out, err := s.run(s.Binary, "-q", flag, strconv.Itoa(outlet)); err != nil {
		return fmt.Errorf("sispmctl %s %d: %v: %s", flag, outlet, err, strings.TrimSpace(string(out)))
	}
	return nil
}
