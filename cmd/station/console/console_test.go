package console

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestOutput(t *testing.T) {
	color.NoColor = true
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	defer SetOutput(os.Stdout, os.Stderr)

	Reading(24.9995, 40)
	Errorf("bus %s", "stuck")

	assert.Equal(t, PictoThermometer+"  25.00 °C\n"+PictoHumidity+" 40.00 %RH\n", out.String())
	assert.Equal(t, "ERROR: bus stuck\n", errOut.String())
}

func TestExit(t *testing.T) {
	color.NoColor = true
	err := Exit(2, "no sensor at 0x%02x", 0x40)
	assert.Equal(t, 2, err.ExitCode())
	assert.Equal(t, "ERROR: no sensor at 0x40", err.Error())
}
