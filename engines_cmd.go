package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lessonloop/readaloud/speech"
	"github.com/lessonloop/readaloud/speech/engines"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Report speech engine availability and voices",
	Long:  paragraph(fmt.Sprintf("\nProbe the configured %s, list its voices and report whether playback is supported on this machine.", keyword("speech engine"))),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := speech.LoadConfigFromViper()
		if err != nil {
			return err
		}

		adapter := engines.NewAdapter(buildCapability(cfg), cfg.ToEngineConfig(), cfg.ToAdapterConfig())
		adapter.EnsureReady(cmd.Context())
		printEngineReport(cfg, adapter)
		return nil
	},
}

func printEngineReport(cfg speech.Config, adapter *engines.Adapter) {
	fmt.Println(titleStyle.Render("Engine: ") + keyword(cfg.Engine))

	if adapter.Supported() {
		fmt.Println(labelStyle.Render("status  ") + activeStyle.Render("supported"))
	} else {
		fmt.Println(labelStyle.Render("status  ") + errorStyle.Render("unavailable"))
		return
	}

	desc := adapter.Describe()
	fmt.Println(labelStyle.Render("pause   ") + yesNo(desc.SupportsNativePause))
	fmt.Println(labelStyle.Render("resume  ") + yesNo(desc.SupportsNativeResume))

	voices := adapter.Voices()
	if len(voices) == 0 {
		fmt.Println(labelStyle.Render("voices  ") + "none discovered")
		return
	}
	fmt.Println(labelStyle.Render("voices"))
	for _, v := range voices {
		line := fmt.Sprintf("  %-8s %s", v.ID, v.Name)
		if v.Language != "" {
			line += labelStyle.Render(" (" + v.Language + ")")
		}
		fmt.Println(line)
	}
}

func yesNo(ok bool) string {
	if ok {
		return activeStyle.Render("native")
	}
	return labelStyle.Render("emulated")
}
