// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vpnhouse/ratio/internal/httpapi"
	"github.com/vpnhouse/ratio/internal/ratio"
	"github.com/vpnhouse/ratio/pkg/xap"
	"go.uber.org/zap"
)

const usage = `usage: ratioctl [-addr URL] [-password P] [-v] command

commands:
  totals             print the lifetime ratio and totals
  config             print the ratio configuration
  reset              reset the lifetime totals
  set key=value...   update configuration keys
`

var (
	addrFlag     = flag.String("addr", "http://127.0.0.1:8112", "ratiod API address")
	passwordFlag = flag.String("password", os.Getenv("RATIO_PASSWORD"), "admin password, if the API is protected")
	verboseFlag  = flag.Bool("v", false, "log requests to stderr")
)

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *verboseFlag {
		zap.ReplaceGlobals(xap.Development())
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client := httpapi.NewClient(*addrFlag, *passwordFlag)
	if err := client.Login(); err != nil {
		fail(err)
	}

	if err := run(client, args[0], args[1:]); err != nil {
		fail(err)
	}
}

func run(client *httpapi.Client, cmd string, args []string) error {
	switch cmd {
	case "totals":
		report, err := client.GetRatioAndTotals()
		if err != nil {
			return err
		}
		printReport(report)
	case "config":
		conf, err := client.GetConfig()
		if err != nil {
			return err
		}
		printConfig(conf.AsMap())
	case "reset":
		if err := client.ResetRatio(); err != nil {
			return err
		}
		fmt.Println("ratio has been reset")
	case "set":
		patch, err := parseAssignments(args)
		if err != nil {
			return err
		}
		if err := client.SetConfig(patch); err != nil {
			return err
		}
		fmt.Println("configuration updated")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printReport(r ratio.Report) {
	scale := float64(1 << 30)
	if r.Unit == ratio.UnitTiB {
		scale = 1 << 40
	}

	fmt.Printf("ratio:    %.3f\n", r.Ratio)
	fmt.Printf("upload:   %.3f %s (%s)\n", r.Upload, r.Unit, humanize.IBytes(uint64(r.Upload*scale)))
	fmt.Printf("download: %.3f %s (%s)\n", r.Download, r.Unit, humanize.IBytes(uint64(r.Download*scale)))
}

func printConfig(conf map[string]interface{}) {
	keys := make([]string, 0, len(conf))
	for k := range conf {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := conf[k]
		if n, ok := v.(int64); ok && strings.HasPrefix(k, "total_") {
			fmt.Printf("%s: %d (%s)\n", k, n, humanize.IBytes(uint64(n)))
			continue
		}
		bs, _ := json.Marshal(v)
		fmt.Printf("%s: %s\n", k, bs)
	}
}

// parseAssignments turns key=value pairs into a config patch,
// values are taken as JSON when they parse, as plain strings otherwise.
func parseAssignments(args []string) (map[string]interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("nothing to set")
	}

	patch := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || len(key) == 0 {
			return nil, fmt.Errorf("invalid assignment %q, key=value expected", arg)
		}

		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			patch[key] = n
			continue
		}

		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			patch[key] = v
		} else {
			patch[key] = value
		}
	}
	return patch, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "ratioctl:", err)
	os.Exit(1)
}
