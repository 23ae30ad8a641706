package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/srg/blepeer/internal/bledb"
	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/pkg/config"
	"github.com/srg/blepeer/pkg/inspect"
)

// palette colors the tree; every color is disabled when output is not a terminal.
type palette struct {
	service, characteristic, descriptor, handle, name, failure *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		service:        color.New(color.FgCyan, color.Bold),
		characteristic: color.New(color.FgGreen),
		descriptor:     color.New(color.FgYellow),
		handle:         color.New(color.FgHiBlack),
		name:           color.New(color.Italic),
		failure:        color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{p.service, p.characteristic, p.descriptor, p.handle, p.name, p.failure} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// render writes res in the requested format.
func render(w io.Writer, res *inspect.InspectResult, format string, colors bool) error {
	switch format {
	case config.FormatJSON:
		data, err := json.MarshalIndent(orderedResult(res), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case config.FormatTree, "":
		renderTree(w, res, newPalette(colors))
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func renderTree(w io.Writer, res *inspect.InspectResult, p palette) {
	prof := res.Profile

	header := fmt.Sprintf("Peer %d", prof.ConnHandle)
	if res.Name != "" {
		header += fmt.Sprintf(" (%s)", res.Name)
	}
	fmt.Fprintf(w, "%s: %d services, state %s\n", header, len(prof.Services), prof.State)
	if prof.Error != "" {
		fmt.Fprintf(w, "%s\n", p.failure.Sprintf("Discovery aborted: %s", prof.Error))
	}

	for si, svc := range prof.Services {
		lastSvc := si == len(prof.Services)-1
		fmt.Fprintf(w, "%s%s %s%s\n",
			branch(lastSvc),
			p.service.Sprintf("Service %s", svc.UUID),
			p.handle.Sprintf("[0x%04x-0x%04x]", svc.StartHandle, svc.EndHandle),
			displayName(p, bledb.ServiceName(svc.UUID)))

		indent := stem(lastSvc)
		for ci, chr := range svc.Characteristics {
			lastChr := ci == len(svc.Characteristics)-1
			fmt.Fprintf(w, "%s%s%s %s %s%s\n",
				indent, branch(lastChr),
				p.characteristic.Sprintf("Characteristic %s", chr.UUID),
				p.handle.Sprintf("[decl 0x%04x, value 0x%04x, end 0x%04x]", chr.DefHandle, chr.ValHandle, chr.EndHandle),
				strings.Join(chr.Properties, ","),
				displayName(p, bledb.CharacteristicName(chr.UUID)))

			dIndent := indent + stem(lastChr)
			for di, dsc := range chr.Descriptors {
				fmt.Fprintf(w, "%s%s%s %s%s\n",
					dIndent, branch(di == len(chr.Descriptors)-1),
					p.descriptor.Sprintf("Descriptor %s", dsc.UUID),
					p.handle.Sprintf("[0x%04x]", dsc.Handle),
					displayName(p, bledb.DescriptorName(dsc.UUID)))
			}
		}
	}
}

func branch(last bool) string {
	if last {
		return "└── "
	}
	return "├── "
}

func stem(last bool) string {
	if last {
		return "    "
	}
	return "│   "
}

func displayName(p palette, name string) string {
	if name == "" {
		return ""
	}
	return " " + p.name.Sprint(name)
}

// orderedResult keeps JSON keys in a stable, reader-friendly order and adds the
// well-known attribute names.
func orderedResult(res *inspect.InspectResult) *orderedmap.OrderedMap[string, any] {
	prof := res.Profile

	out := orderedmap.New[string, any]()
	out.Set("source", res.Source)
	if res.Name != "" {
		out.Set("name", res.Name)
	}
	out.Set("conn_handle", prof.ConnHandle)
	out.Set("state", prof.State)
	if prof.Error != "" {
		out.Set("error", prof.Error)
	}

	services := make([]*orderedmap.OrderedMap[string, any], 0, len(prof.Services))
	for _, svc := range prof.Services {
		services = append(services, orderedService(svc))
	}
	out.Set("services", services)

	if len(res.Events) > 0 {
		out.Set("events", res.Events)
	}
	return out
}

func orderedService(svc gatt.ServiceInfo) *orderedmap.OrderedMap[string, any] {
	m := orderedmap.New[string, any]()
	m.Set("uuid", svc.UUID.String())
	setName(m, bledb.ServiceName(svc.UUID))
	m.Set("start_handle", svc.StartHandle)
	m.Set("end_handle", svc.EndHandle)

	chrs := make([]*orderedmap.OrderedMap[string, any], 0, len(svc.Characteristics))
	for _, chr := range svc.Characteristics {
		c := orderedmap.New[string, any]()
		c.Set("uuid", chr.UUID.String())
		setName(c, bledb.CharacteristicName(chr.UUID))
		c.Set("def_handle", chr.DefHandle)
		c.Set("val_handle", chr.ValHandle)
		c.Set("end_handle", chr.EndHandle)
		c.Set("properties", chr.Properties)

		dscs := make([]*orderedmap.OrderedMap[string, any], 0, len(chr.Descriptors))
		for _, dsc := range chr.Descriptors {
			d := orderedmap.New[string, any]()
			d.Set("uuid", dsc.UUID.String())
			setName(d, bledb.DescriptorName(dsc.UUID))
			d.Set("handle", dsc.Handle)
			dscs = append(dscs, d)
		}
		c.Set("descriptors", dscs)
		chrs = append(chrs, c)
	}
	m.Set("characteristics", chrs)
	return m
}

func setName(m *orderedmap.OrderedMap[string, any], name string) {
	if name != "" {
		m.Set("name", name)
	}
}
