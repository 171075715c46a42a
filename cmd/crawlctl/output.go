package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/user/site-crawler/internal/report"
)

func newReport(ctx context.Context, source report.Source, withURLs bool) (*report.Report, error) {
	rep, err := report.NewAggregator(source).Report(ctx)
	if err != nil {
		return nil, err
	}
	rep.AvgResponseTime = report.Round3(rep.AvgResponseTime)
	if !withURLs {
		rep.URLs = nil
	}
	return rep, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
