// Package usbid looks up vendor and product names in the usb.ids database
// distributed with usbutils and hwdata.
//
// Vendor lines start with a 4-digit hex ID; product lines follow their vendor
// indented by one tab:
//
//	1209  Generic
//		0001  pid.codes Test PID
//
// Only the vendor and product sections are read. Class, language and other
// sections are skipped.
package usbid

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultPaths lists the usual locations of the database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// ErrNotFound is returned by Load when no database file exists.
var ErrNotFound = errors.New("usb.ids database not found")

// Database maps vendor and product IDs to names. A Database is read-only
// after Parse and safe for concurrent use. A nil Database finds nothing.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string
}

// Load parses the first of paths that can be opened. With no paths it
// searches DefaultPaths.
func Load(paths ...string) (*Database, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		return Parse(f)
	}
	return nil, ErrNotFound
}

// Parse reads a database in usb.ids format.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}

	scanner := bufio.NewScanner(r)
	var vendor uint16
	var inVendor bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		if line[0] != '\t' {
			id, name, ok := splitEntry(line)
			inVendor = ok
			if ok {
				vendor = id
				db.vendors[id] = name
			}
			continue
		}

		// Interface lines are indented twice and have no use here.
		if !inVendor || strings.HasPrefix(line, "\t\t") {
			continue
		}
		if id, name, ok := splitEntry(line[1:]); ok {
			db.products[productKey(vendor, id)] = name
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

// splitEntry splits "xxxx  Name" into its ID and name.
func splitEntry(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[5:]), true
}

func productKey(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Vendor returns the name of vid, or "".
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vid]
}

// Product returns the name of pid under vid, or "".
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	return db.products[productKey(vid, pid)]
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	return len(db.vendors), len(db.products)
}
