package tasks

import (
	"context"
	"os/exec"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// commandExists checks presence of an executable in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ImagickReader dates images from the EXIF properties MagickWand exposes
// after a ping. It needs no external executable.
type ImagickReader struct{}

func (ImagickReader) Name() string { return "imagick" }

func (ImagickReader) ReadTimes(ctx context.Context, paths []string) (ReadResult, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	var res ReadResult
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ts, ok := pingTime(p)
		if !ok {
			res.Skipped = append(res.Skipped, p)
			continue
		}
		res.Times = append(res.Times, ImageTime{Path: p, Time: ts})
	}
	return res, nil
}

func pingTime(path string) (float64, bool) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return 0, false
	}
	stamp := composeExifTime(
		mw.GetImageProperty("exif:DateTimeOriginal"),
		mw.GetImageProperty("exif:SubSecTimeOriginal"),
		mw.GetImageProperty("exif:OffsetTimeOriginal"),
	)
	if stamp == "" {
		return 0, false
	}
	ts, err := ParseExifTime(stamp)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// composeExifTime joins the separate EXIF date, sub-second and offset tags.
func composeExifTime(dto, subsec, offset string) string {
	dto = strings.TrimSpace(dto)
	if dto == "" {
		return ""
	}
	if subsec = strings.TrimSpace(subsec); subsec != "" {
		dto += "." + subsec
	}
	if offset = strings.TrimSpace(offset); offset != "" && !hasZone(dto) {
		dto += offset
	}
	return dto
}
