package ytdl

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/progress"
)

// buildArgs assembles the downloader command line for one episode.
func buildArgs(feedConfig *feed.Config, episode *model.Episode, outputFilePath string) []string {
	var args []string

	switch feedConfig.Format {
	case model.FormatVideo:
		// Video, mp4, high by default
		format := "bestvideo[ext=mp4][vcodec^=avc1]+bestaudio[ext=m4a]/best[ext=mp4][vcodec^=avc1]/best[ext=mp4]/best"

		if feedConfig.Quality == model.QualityLow {
			format = "worstvideo[ext=mp4][vcodec^=avc1]+worstaudio[ext=m4a]/worst[ext=mp4][vcodec^=avc1]/worst[ext=mp4]/worst"
		} else if feedConfig.Quality == model.QualityHigh && feedConfig.MaxHeight > 0 {
			format = fmt.Sprintf("bestvideo[height<=%d][ext=mp4][vcodec^=avc1]+bestaudio[ext=m4a]/best[height<=%d][ext=mp4][vcodec^=avc1]/best[ext=mp4]/best", feedConfig.MaxHeight, feedConfig.MaxHeight)
		}

		args = append(args, "--format", format)

	case model.FormatAudio:
		// Audio, mp3, high by default
		format := "bestaudio"
		if feedConfig.Quality == model.QualityLow {
			format = "worstaudio"
		}

		args = append(args, "--extract-audio", "--audio-format", "mp3", "--format", format)

	default:
		args = append(args, "--audio-format", feedConfig.CustomFormat.Extension, "--format", feedConfig.CustomFormat.YouTubeDLFormat)
	}

	// Feed-specific extra arguments
	args = append(args, feedConfig.YouTubeDLArgs...)

	// Progress output for the line parser
	args = append(args, "--progress", "--newline")

	args = append(args, "--output", outputFilePath, episode.VideoURL)
	return args
}

var (
	// [download]   45.2% of 10.50MiB at 1.23MiB/s ETA 00:04
	downloadPattern = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\d+\.?\d*)(MiB|KiB|GiB|B)(?:\s+at\s+(\d+\.?\d*)(MiB|KiB|GiB|B)/s)?`)
	// [ffmpeg] / [ExtractAudio] / [VideoConvertor] mark post-processing
	encodingPattern = regexp.MustCompile(`^\[(ffmpeg|ExtractAudio|VideoConvertor)\]`)
)

// parseProgressLine extracts progress information from a single output line
// and forwards it to the callback.
func parseProgressLine(line string, cb ProgressFunc) {
	if matches := downloadPattern.FindStringSubmatch(line); matches != nil {
		percent, _ := strconv.ParseFloat(matches[1], 64)

		totalSize, _ := strconv.ParseFloat(matches[2], 64)
		totalBytes := convertToBytes(totalSize, matches[3])

		downloadedBytes := int64(float64(totalBytes) * percent / 100.0)

		speed := ""
		if len(matches) >= 6 && matches[4] != "" {
			speed = matches[4] + matches[5] + "/s"
		}

		cb(progress.StageDownloading, percent, downloadedBytes, totalBytes, speed)
	} else if encodingPattern.MatchString(line) {
		// Post-processing: download is done, now encoding
		cb(progress.StageEncoding, 100, 0, 0, "")
	}
}

// convertToBytes converts a size with a binary unit suffix to bytes.
func convertToBytes(size float64, unit string) int64 {
	switch unit {
	case "KiB":
		return int64(size * 1024)
	case "MiB":
		return int64(size * 1024 * 1024)
	case "GiB":
		return int64(size * 1024 * 1024 * 1024)
	default:
		return int64(size)
	}
}
