// Command cvrp solves capacitated vehicle routing instances from the command
// line, in one process or as one rank of a distributed run.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cvrp/internal/opt"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "cvrp",
		Short:        "Capacitated vehicle routing search",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
				log.SetOutput(io.Discard)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress progress logging")
	rootCmd.AddCommand(newSolveCmd(), newRankCmd())
	return rootCmd
}

// instanceFlags are shared by every command that reads an instance file.
type instanceFlags struct {
	file     string
	capacity int
	maxStops int
}

func (f *instanceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "instance file (place count, places, road count, roads)")
	cmd.Flags().IntVar(&f.capacity, "capacity", 0, "vehicle capacity")
	cmd.Flags().IntVar(&f.maxStops, "max-stops", 0, "maximum customers per trip")
	for _, name := range []string{"file", "capacity", "max-stops"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			log.Fatalf("mark %s required: %v", name, err)
		}
	}
}

type resultOut struct {
	Engine    string  `json:"engine"`
	Feasible  bool    `json:"feasible"`
	Route     []int   `json:"route"`
	Trips     [][]int `json:"trips,omitempty"`
	Cost      int     `json:"cost"`
	Frames    int64   `json:"frames,omitempty"`
	Found     int     `json:"candidates,omitempty"`
	Trials    int     `json:"trials,omitempty"`
	ElapsedMs int64   `json:"elapsedMs"`
}

func printResult(w io.Writer, res opt.Result, asJSON bool) error {
	if asJSON {
		out := resultOut{
			Engine:    res.Engine,
			Feasible:  res.Feasible(),
			Route:     append([]int{}, res.Route...),
			Trips:     res.Trips(),
			Cost:      res.Cost,
			Frames:    res.Stats.Frames,
			Found:     res.Stats.Candidates,
			Trials:    res.Stats.Trials,
			ElapsedMs: res.Stats.Duration.Milliseconds(),
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if !res.Feasible() {
		_, err := fmt.Fprintf(w, "route: none\ncost: %d\n", res.Cost)
		return err
	}
	parts := make([]string, len(res.Route))
	for i, p := range res.Route {
		parts[i] = fmt.Sprint(p)
	}
	_, err := fmt.Fprintf(w, "route: %s\ncost: %d\n", strings.Join(parts, " "), res.Cost)
	return err
}
