package util

import "testing"

func TestLogInitReachesComponentLoggers(t *testing.T) {
	defer LogInit("info")

	LogInit("warn")
	log := Component("test")
	if log.Debug().Enabled() {
		t.Error("debug enabled at warn level")
	}

	LogInit("debug")
	if !log.Debug().Enabled() {
		t.Error("component logger created before reload did not pick up debug level")
	}

	LogInit("error")
	if log.Warn().Enabled() {
		t.Error("component logger created before reload still logs warnings at error level")
	}
}
