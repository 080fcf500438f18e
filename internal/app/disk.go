package app

import "syscall"

// DiskUsage describes the file system holding the recording.
type DiskUsage struct {
	Path           string  `json:"path"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// statDisk returns usage for the file system holding path, or nil on error.
func statDisk(path string) *DiskUsage {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return nil
	}
	bsize := uint64(st.Bsize)
	du := &DiskUsage{
		Path:           path,
		TotalBytes:     st.Blocks * bsize,
		UsedBytes:      (st.Blocks - st.Bfree) * bsize,
		AvailableBytes: st.Bavail * bsize,
	}
	if du.TotalBytes > 0 {
		du.UsedPercent = float64(du.UsedBytes) / float64(du.TotalBytes) * 100
	}
	return du
}

// maxRecordingBytes is the size of a recording that runs to the duration
// limit.
func (a *App) maxRecordingBytes() uint64 {
	secs := a.cfg.Recording.MaxDuration().Seconds()
	return 44 + uint64(secs*float64(a.cfg.Audio.SampleRate)*2)
}
