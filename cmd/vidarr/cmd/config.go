package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing vidarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  vidarr config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, /etc/vidarr/config.yaml, $HOME/.vidarr/config.yaml)
  - Environment variables (VIDARR_STREAM_FPS, VIDARR_VIDEO_CODEC, etc.)
  - Command-line flags (for logging)

Environment variables use the VIDARR_ prefix and underscores for nesting.
Example: video.decoder_selection -> VIDARR_VIDEO_DECODER_SELECTION`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map keyed by its mapstructure tags, formatting
// durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	// Defaults only, ignoring any loaded file or environment.
	defaults, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(defaults))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# vidarr Configuration File")
	fmt.Fprintln(out, "# ==========================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# All values shown below are defaults.")
	fmt.Fprintln(out, "# Duration format: 1500ms, 3.5s")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# video.decoder_selection: auto, software, hardware")
	fmt.Fprintln(out, "# video.codec:             auto, h264, hevc, av1")
	fmt.Fprintln(out, "# video.window_mode:       fullscreen, borderless, windowed")
	fmt.Fprintln(out, "# stream.audio_config:     stereo, 5.1, 7.1")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   VIDARR_LOGGING_LEVEL, VIDARR_LOGGING_FORMAT")
	fmt.Fprintln(out, "#   VIDARR_VIDEO_CODEC, VIDARR_STREAM_FPS")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))

	return nil
}
