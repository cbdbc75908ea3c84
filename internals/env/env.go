package env

import (
	"fmt"
	"sync"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	HOME           string `zog:"HOME"`
	DATA_DIR       string `zog:"CLAWD_DATA_DIR"`
	LOG_LEVEL      string `zog:"CLAWD_LOG_LEVEL"`
	GEMINI_API_KEY string `zog:"GEMINI_API_KEY"`
}

var (
	env     *EnvStruct
	envErr  error
	envOnce sync.Once
)

var EnvSchema = z.Struct(z.Shape{
	"HOME":           z.String().Optional(),
	"DATA_DIR":       z.String().Trim().Default("~/.clawd"),
	"LOG_LEVEL":      z.String().Optional().Trim(),
	"GEMINI_API_KEY": z.String().Optional().Trim(),
})

func Load() (*EnvStruct, error) {
	parsed := &EnvStruct{}
	if issues := EnvSchema.Parse(zenv.NewDataProvider(), parsed); issues != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %s", z.Issues.Prettify(issues))
	}
	return parsed, nil
}

// Get parses the environment once per process.
func Get() (*EnvStruct, error) {
	envOnce.Do(func() {
		env, envErr = Load()
	})
	return env, envErr
}
