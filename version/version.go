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

package version

import (
	"fmt"
	"runtime/debug"
)

var (
	defaultVersionString = "0.0.0-git"
	// set with -ldflags "-X github.com/arduino/spiflash-loader/version.versionString=..."
	versionString = ""
	commit        = ""
	date          = ""
	// VersionInfo contains info regarding the version
	VersionInfo *Info
)

// Info describes the running build.
type Info struct {
	Application   string `json:"Application"`
	VersionString string `json:"VersionString"`
	Commit        string `json:"Commit"`
	Date          string `json:"Date"`
}

func newInfo(application string, build *debug.BuildInfo) *Info {
	i := &Info{
		Application:   application,
		VersionString: versionString,
		Commit:        commit,
		Date:          date,
	}
	if build != nil {
		// binaries built with go install carry the module version and VCS data
		if i.VersionString == "" && build.Main.Version != "" && build.Main.Version != "(devel)" {
			i.VersionString = build.Main.Version
		}
		for _, s := range build.Settings {
			switch {
			case s.Key == "vcs.revision" && i.Commit == "":
				i.Commit = s.Value
			case s.Key == "vcs.time" && i.Date == "":
				i.Date = s.Value
			}
		}
	}
	if i.VersionString == "" {
		i.VersionString = defaultVersionString
	}
	return i
}

func (i *Info) String() string {
	return fmt.Sprintf("%s Version: %s Commit: %s Date: %s", i.Application, i.VersionString, i.Commit, i.Date)
}

// Data implements feedback.Result interface
func (i *Info) Data() interface{} {
	return i
}

func init() {
	build, _ := debug.ReadBuildInfo()
	VersionInfo = newInfo("spiflash-loader", build)
}
