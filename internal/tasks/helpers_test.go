package tasks

import "traj2gps/internal/config"

func toolsConfig(exiftool, reader string) config.Tools {
	return config.Tools{Exiftool: exiftool, DDB: "traj2gps-no-such-ddb", MetadataReader: reader}
}
