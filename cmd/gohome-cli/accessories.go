package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/core"
)

type httpClient struct {
	base string
	http *http.Client
}

func newHTTPClient(c *cli.Context) *httpClient {
	base := httpAddr(c)
	if !strings.Contains(base, "://") {
		if strings.HasPrefix(base, ":") {
			base = "localhost" + base
		}
		base = "http://" + base
	}
	return &httpClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: c.Duration("timeout")}}
}

func (h *httpClient) do(method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, h.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func pluginsCmd(c *cli.Context) error {
	var plugins []core.PluginSummary
	if err := newHTTPClient(c).do(http.MethodGet, "/plugins", nil, &plugins); err != nil {
		return err
	}
	out := outputMode{json: c.Bool("json")}
	if out.json {
		out.printJSON(plugins)
		return nil
	}
	rows := [][]string{{"PLUGIN", "VERSION", "STATUS", "MESSAGE"}}
	for _, p := range plugins {
		rows = append(rows, []string{p.PluginID, p.Version, p.Status, p.HealthMessage})
	}
	out.table(rows)
	return nil
}

func accessoriesCmd(c *cli.Context) error {
	accs, err := listAccessories(newHTTPClient(c))
	if err != nil {
		return err
	}
	out := outputMode{json: c.Bool("json")}
	if out.json {
		out.printJSON(accs)
		return nil
	}
	rows := [][]string{{"NAME", "UUID", "SERVICES", "ERRORS"}}
	for _, a := range accs {
		services := make([]string, 0, len(a.Services))
		errs := 0
		for _, s := range a.Services {
			services = append(services, s.Type)
			for _, ch := range s.Characteristics {
				if ch.Error != "" {
					errs++
				}
			}
		}
		rows = append(rows, []string{a.DisplayName, a.UUID, strings.Join(services, ","), fmt.Sprint(errs)})
	}
	out.table(rows)
	return nil
}

func getCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: gohome-cli get <name|uuid>")
	}
	client := newHTTPClient(c)
	acc, err := findAccessory(client, c.Args().First())
	if err != nil {
		return err
	}
	out := outputMode{json: c.Bool("json")}
	if out.json {
		out.printJSON(acc)
		return nil
	}
	rows := [][]string{{"SERVICE", "CHARACTERISTIC", "VALUE", "ERROR"}}
	for _, s := range acc.Services {
		for _, ch := range s.Characteristics {
			rows = append(rows, []string{s.Type, ch.Type, fmt.Sprint(ch.Value), ch.Error})
		}
	}
	out.table(rows)
	return nil
}

func setCmd(c *cli.Context) error {
	if c.NArg() < 4 {
		return fmt.Errorf("usage: gohome-cli set <name|uuid> <service> <characteristic> <json-value>")
	}
	args := c.Args().Slice()
	var value any
	if err := json.Unmarshal([]byte(args[3]), &value); err != nil {
		return fmt.Errorf("value must be JSON: %w", err)
	}

	client := newHTTPClient(c)
	acc, err := findAccessory(client, args[0])
	if err != nil {
		return err
	}
	body, _ := json.Marshal(value)
	path := "/accessories/" + url.PathEscape(acc.UUID) + "/" + url.PathEscape(args[1]) + "/" + url.PathEscape(args[2])
	var snap accessory.CharacteristicSnapshot
	if err := client.do(http.MethodPut, path, body, &snap); err != nil {
		return err
	}
	fmt.Printf("%s %s/%s = %v\n", acc.DisplayName, args[1], args[2], snap.Value)
	return nil
}

func discoverCmd(c *cli.Context) error {
	if err := newHTTPClient(c).do(http.MethodPost, "/resideo/discover", nil, nil); err != nil {
		return err
	}
	fmt.Println("discovery complete")
	return nil
}

func listAccessories(client *httpClient) ([]accessory.Snapshot, error) {
	var accs []accessory.Snapshot
	err := client.do(http.MethodGet, "/accessories", nil, &accs)
	return accs, err
}

// findAccessory accepts a UUID or a display name.
func findAccessory(client *httpClient, input string) (accessory.Snapshot, error) {
	accs, err := listAccessories(client)
	if err != nil {
		return accessory.Snapshot{}, err
	}
	names := make(map[string]string, len(accs))
	byUUID := make(map[string]accessory.Snapshot, len(accs))
	for _, a := range accs {
		if a.UUID == input {
			return a, nil
		}
		names[a.DisplayName] = a.UUID
		byUUID[a.UUID] = a
	}
	id, err := resolveNamedID("accessory", input, names)
	if err != nil {
		return accessory.Snapshot{}, err
	}
	return byUUID[id], nil
}
