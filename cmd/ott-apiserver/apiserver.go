package main

import (
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/version"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver"
)

func main() {
	version.CheckVersionAndExit()
	ottserver.NewApp("ott-apiserver").Run()
}
