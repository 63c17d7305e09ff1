// Command vocinfo prints the stage layout and parameter counts of the
// vocoder generator architectures.
//
// Usage:
//
//	vocinfo [flags] [architecture ...]
//
// Without arguments it prints info for all known architectures.
//
// Examples:
//
//	vocinfo hifigan
//	vocinfo -frames 200 sifigan
//	vocinfo -list
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cwbudde/algo-vocoder/generator"
)

type archEntry struct {
	name  string
	build func() (archInfo, error)
}

type archInfo struct {
	inChannels  int
	outChannels int
	channels    int
	scales      []int
	kernels     []int
	params      int
}

var registry = []archEntry{
	{"hifigan", buildHiFiGAN},
	{"sifigan", buildSiFiGAN},
	{"sifigan-direct", buildSiFiGANDirect},
}

func main() {
	frames := flag.Int("frames", 100, "conditioning frame count for the output-length column")
	list := flag.Bool("list", false, "list available architecture names")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vocinfo [flags] [architecture ...]\n\n")
		fmt.Fprintf(os.Stderr, "Prints stage layouts and parameter counts of vocoder generators.\n")
		fmt.Fprintf(os.Stderr, "Without arguments, prints info for all architectures.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vocinfo hifigan sifigan\n")
		fmt.Fprintf(os.Stderr, "  vocinfo -frames 200 sifigan-direct\n")
		fmt.Fprintf(os.Stderr, "  vocinfo -list\n")
	}
	flag.Parse()

	if *list {
		printList()
		return
	}

	names := flag.Args()
	if len(names) == 0 {
		for _, e := range registry {
			names = append(names, e.name)
		}
	}

	entries := resolveEntries(names)
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "error: no matching architectures\n")
		os.Exit(1)
	}

	printAnalysis(entries, *frames)
}

func printList() {
	names := make([]string, len(registry))
	for i, e := range registry {
		names[i] = e.name
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
}

func resolveEntries(names []string) []archEntry {
	byName := make(map[string]archEntry, len(registry))
	for _, e := range registry {
		byName[e.name] = e
	}

	var result []archEntry
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		e, ok := byName[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: unknown architecture %q (use -list to see available)\n", name)
			continue
		}
		result = append(result, e)
	}
	return result
}

func buildHiFiGAN() (archInfo, error) {
	cfg := generator.DefaultHiFiGANConfig()
	g, err := generator.NewHiFiGAN(cfg)
	if err != nil {
		return archInfo{}, err
	}
	return archInfo{
		inChannels:  cfg.InChannels,
		outChannels: cfg.OutChannels,
		channels:    cfg.Channels,
		scales:      cfg.UpsampleScales,
		kernels:     cfg.UpsampleKernelSizes,
		params:      g.NumParameters(),
	}, nil
}

func buildSiFiGAN() (archInfo, error) {
	cfg := generator.DefaultSiFiGANConfig()
	g, err := generator.NewSiFiGAN(cfg)
	if err != nil {
		return archInfo{}, err
	}
	return archInfo{
		inChannels:  cfg.InChannels,
		outChannels: cfg.OutChannels,
		channels:    cfg.Channels,
		scales:      cfg.UpsampleScales,
		kernels:     cfg.UpsampleKernelSizes,
		params:      g.NumParameters(),
	}, nil
}

func buildSiFiGANDirect() (archInfo, error) {
	cfg := generator.DefaultSiFiGANDirectConfig()
	g, err := generator.NewSiFiGANDirect(cfg)
	if err != nil {
		return archInfo{}, err
	}
	return archInfo{
		inChannels:  cfg.InChannels,
		outChannels: cfg.OutChannels,
		channels:    cfg.Channels,
		scales:      cfg.UpsampleScales,
		kernels:     cfg.UpsampleKernelSizes,
		params:      g.NumParameters(),
	}, nil
}

func printAnalysis(entries []archEntry, frames int) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	for _, e := range entries {
		info, err := e.build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %s: %v\n", e.name, err)
			continue
		}

		hop := 1
		for _, s := range info.scales {
			hop *= s
		}

		if _, err := fmt.Fprintf(tw, "%s\tin=%d out=%d channels=%d params=%d\t\t\t\n",
			e.name, info.inChannels, info.outChannels, info.channels, info.params); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output: %v\n", err)
			return
		}
		if _, err := fmt.Fprintf(tw, "Stage\tScale\tKernel\tChannels\tLength\n"); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output header: %v\n", err)
			return
		}
		if _, err := fmt.Fprintf(tw, "-----\t-----\t------\t--------\t------\n"); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output header: %v\n", err)
			return
		}

		length := frames
		ch := info.channels
		for i, s := range info.scales {
			length *= s
			if _, err := fmt.Fprintf(tw, "%d\tx%d\t%d\t%d -> %d\t%d\n",
				i, s, info.kernels[i], ch, ch/2, length); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output row: %v\n", err)
				return
			}
			ch /= 2
		}

		if _, err := fmt.Fprintf(tw, "output\tx1 (hop %d)\t-\t%d -> %d\t%d\n\n",
			hop, ch, info.outChannels, length); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output row: %v\n", err)
			return
		}
	}

	if err := tw.Flush(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: failed to flush output: %v\n", err)
	}
}
