package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const meminfoPath = "/proc/meminfo"

// memoryNote describes available and total memory, or returns "" where
// /proc/meminfo is not readable.
func memoryNote() string {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return ""
	}
	defer f.Close()
	avail, total, ok := parseMeminfo(f)
	if !ok {
		return ""
	}
	return fmt.Sprintf("Current memory: %s / %s", humanize.IBytes(uint64(avail)), humanize.IBytes(uint64(total)))
}

// parseMeminfo reads MemAvailable and MemTotal (reported in kB) as bytes.
func parseMeminfo(r io.Reader) (avail, total int64, ok bool) {
	var haveAvail, haveTotal bool
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemAvailable:":
			avail, haveAvail = n*1024, true
		case "MemTotal:":
			total, haveTotal = n*1024, true
		}
	}
	return avail, total, haveAvail && haveTotal
}
