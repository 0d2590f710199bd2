// Package quota estimates whether local storage can hold a download
// before any bytes are fetched.
package quota

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tanq16/hoard/utils"
)

// Result reports the host's storage situation for a requested size.
type Result struct {
	Supported  bool
	Usage      uint64
	Quota      uint64
	Free       uint64
	Sufficient bool
}

// Check queries disk usage for the filesystem holding path and compares
// free space against requiredBytes plus a 20% safety margin. Fail-open:
// when usage cannot be determined the download is never blocked, and an
// unknown required size (0) is always sufficient.
func Check(path string, requiredBytes int64) Result {
	log := utils.GetLogger("quota")
	usage, err := disk.Usage(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Storage estimate unavailable, allowing download")
		return Result{Supported: false, Sufficient: true}
	}
	res := Result{
		Supported: true,
		Usage:     usage.Used,
		Quota:     usage.Total,
		Free:      usage.Free,
	}
	if requiredBytes <= 0 {
		res.Sufficient = true
		return res
	}
	needed := uint64(requiredBytes) + uint64(requiredBytes)/5
	res.Sufficient = res.Free >= needed
	log.Debug().Uint64("free", res.Free).Uint64("needed", needed).Bool("sufficient", res.Sufficient).Msg("Quota check")
	return res
}
