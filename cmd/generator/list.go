package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"vehicle-generator/internal/routes"
)

func runAgencies(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("agencies", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	printAgencies(stdout, routes.Demo())
	return 0
}

func runRoutes(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("routes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	agency := fs.String("agency", "", "transit agency identifier (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *agency == "" {
		fmt.Fprintln(stderr, "routes: --agency is required")
		return 2
	}
	printRoutes(stdout, routes.Demo(), *agency)
	return 0
}

func printAgencies(w io.Writer, cat *routes.Catalog) {
	fmt.Fprintln(w, "Available agencies:")
	tw := tabwriter.NewWriter(w, 0, 0, 4, ' ', 0)
	for _, a := range cat.Agencies() {
		fmt.Fprintf(tw, "  %s\t%s\n", a.ID, a.Title)
	}
	_ = tw.Flush()
}

func printRoutes(w io.Writer, cat *routes.Catalog, agency string) {
	rs := cat.RoutesFor(agency)
	if len(rs) == 0 {
		fmt.Fprintf(w, "No routes found for agency: %s\n", agency)
		return
	}
	fmt.Fprintf(w, "Available routes for %s:\n", agency)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, r := range rs {
		fmt.Fprintf(tw, "  %s\t%s\t%d waypoints\t%.1f km\n", r.Tag, r.Title, len(r.Waypoints), r.Length())
	}
	_ = tw.Flush()
}
