package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported providers and models",
	Run:   runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(_ *cobra.Command, _ []string) {
	for _, name := range provider.SupportedProviders() {
		fmt.Println(name + ":")
		for _, model := range provider.SupportedModels(name) {
			info, known := provider.LookupModel(model)
			if !known {
				fmt.Printf("  %s\n", model)
				continue
			}
			fmt.Printf("  %-32s context=%-8d $%.2f/$%.2f per 1M tokens\n",
				model, info.ContextWindow, info.InputCostPerMillion, info.OutputCostPerMillion)
		}
	}
}
