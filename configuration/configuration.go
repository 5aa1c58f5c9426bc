/*
	spiflash-loader
	Copyright (c) 2024 Arduino LLC.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package configuration loads the settings file shared by all commands.
package configuration

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/arduino/spiflash-loader/flasher"
	"github.com/arduino/spiflash-loader/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportXillybus = "xillybus"
	TransportSerial   = "serial"
)

// TransportKinds lists the supported transport kinds.
var TransportKinds = []string{TransportXillybus, TransportSerial}

// Completion ceilings of commands started from the command line. A bulk
// erase of a 256 Mb part can take several minutes.
const (
	DefaultCompletionTimeout = 5 * time.Minute
	DefaultBulkEraseTimeout  = 30 * time.Minute
)

// Transport selects and configures the command channel.
type Transport struct {
	Kind     string `yaml:"kind" json:"kind"`
	In       string `yaml:"in" json:"in"`
	Out      string `yaml:"out" json:"out"`
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baudrate" json:"baudrate"`
}

// Settings is the content of the settings file.
type Settings struct {
	Transport Transport      `yaml:"transport" json:"transport"`
	Flasher   flasher.Config `yaml:"flasher" json:"flasher"`
}

// NotFoundError is returned when an explicitly requested settings file
// does not exist.
type NotFoundError struct {
	Path *paths.Path
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("settings file %s not found", e.Path)
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	cfg := flasher.DefaultConfig()
	cfg.CompletionTimeout = DefaultCompletionTimeout
	cfg.BulkEraseTimeout = DefaultBulkEraseTimeout
	return &Settings{
		Transport: Transport{
			Kind:     TransportXillybus,
			In:       transport.DefaultXillybusIn,
			Out:      transport.DefaultXillybusOut,
			BaudRate: transport.DefaultBaudRate,
		},
		Flasher: cfg,
	}
}

// Load reads the settings file at path on top of the defaults.
func Load(path *paths.Path) (*Settings, error) {
	if path.NotExist() {
		return nil, &NotFoundError{Path: path}
	}
	data, err := path.ReadFile()
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	settings, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	logrus.Debugf("Loaded settings from %s", path)
	return settings, nil
}

// Parse decodes YAML settings on top of the defaults. Unknown keys are
// rejected.
func Parse(data []byte) (*Settings, error) {
	settings := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(settings); err != nil && !errors.Is(err, io.EOF) {
		logrus.Error(err)
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the transport kind and the flasher bounds.
func (s *Settings) Validate() error {
	if !slices.Contains(TransportKinds, s.Transport.Kind) {
		return fmt.Errorf("invalid transport kind %q, must be one of %v", s.Transport.Kind, TransportKinds)
	}
	if s.Transport.Kind == TransportSerial && s.Transport.Port == "" {
		return fmt.Errorf("serial transport requires a port")
	}
	return s.Flasher.Validate()
}

// OpenChannel opens the command channel described by the transport settings.
func (s *Settings) OpenChannel() (transport.Channel, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Transport.Kind {
	case TransportSerial:
		return transport.OpenSerial(s.Transport.Port, s.Transport.BaudRate)
	default:
		logrus.Infof("Using xillybus devices %s and %s", s.Transport.In, s.Transport.Out)
		return transport.NewXillybus(paths.New(s.Transport.In), paths.New(s.Transport.Out)), nil
	}
}
