package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
	"github.com/edgeo-scada/canopen/profile"
)

func currentNode() canopen.NodeID {
	return canopen.NodeID(viper.GetUint("node"))
}

// loadProfile returns nil when no profile is configured.
func loadProfile(path string) (*profile.Profile, error) {
	if path == "" {
		return nil, nil
	}
	p, err := profile.Load(path, currentNode())
	if err != nil {
		return nil, err
	}
	logger.Debug("profile loaded",
		slog.String("name", p.Name),
		slog.Int("objects", len(p.Objects)),
		slog.Int("tpdos", len(p.TPDOs)),
		slog.Int("skipped", p.Skipped))
	return p, nil
}

// newDirectory builds a directory from the profile. Conflicting entries are
// logged and skipped.
func newDirectory(p *profile.Profile) *canopen.Directory {
	dir := canopen.NewDirectory()
	if p == nil {
		return dir
	}
	if err := p.Apply(dir); err != nil {
		logger.Warn("profile entries skipped", slog.String("error", err.Error()))
	}
	return dir
}

// openClient opens the configured channel with a directory seeded from the
// profile.
func openClient(ctx context.Context) (*canopen.Client, *profile.Profile, error) {
	prof, err := loadProfile(viper.GetString("profile"))
	if err != nil {
		return nil, nil, err
	}

	ch := viper.GetString("channel")
	client, err := canopen.Open(ctx, ch,
		canopen.WithNodeID(currentNode()),
		canopen.WithTimeout(viper.GetDuration("timeout")),
		canopen.WithDirectory(newDirectory(prof)),
		canopen.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", ch, err)
	}
	return client, prof, nil
}

// parseTarget parses "2100:01" or "2100:01/u16".
func parseTarget(s string) (canopen.Address, canopen.DataType, error) {
	addrPart, typePart, _ := strings.Cut(s, "/")
	addr, err := canopen.ParseAddress(addrPart)
	if err != nil {
		return canopen.Address{}, canopen.TypeUnknown, err
	}
	if typePart == "" {
		return addr, canopen.TypeUnknown, nil
	}
	t, err := canopen.ParseDataType(typePart)
	if err != nil {
		return canopen.Address{}, canopen.TypeUnknown, err
	}
	return addr, t, nil
}

// ensureRegistered registers addr with t, or checks that the profile
// already declares it when t is unknown.
func ensureRegistered(dir *canopen.Directory, addr canopen.Address, t canopen.DataType, opts ...canopen.EntryOption) error {
	if t == canopen.TypeUnknown {
		if _, ok := dir.Lookup(addr); !ok {
			return fmt.Errorf("%s is not declared by the profile, give a type (e.g. %s/u16)", addr, addr)
		}
		return nil
	}
	return dir.Register(addr, t, opts...)
}
