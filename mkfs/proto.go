package mkfs

import (
	"fmt"
	"io/ioutil"
	"path"

	"gopkg.in/yaml.v2"

	"github.com/dvdphobia/unix-v6-sub000/common"
)

// Proto describes files to put on a fresh volume.
//
//	size: 1000
//	isize: 7
//	root:
//	  - name: etc
//	    mode: 0755
//	    entries:
//	      - name: motd
//	        data: "hello\n"
type Proto struct {
	Size  int     `yaml:"size"`
	Isize int     `yaml:"isize"`
	Root  []Entry `yaml:"root"`
}

// Entry is a file or, when Dir is set or it has entries, a directory.
type Entry struct {
	Name    string  `yaml:"name"`
	Mode    uint16  `yaml:"mode"`
	Uid     uint8   `yaml:"uid"`
	Gid     uint8   `yaml:"gid"`
	Dir     bool    `yaml:"dir"`
	Data    string  `yaml:"data"`
	Source  string  `yaml:"source"` // host file to copy, instead of Data
	Entries []Entry `yaml:"entries"`
}

func (e *Entry) IsDir() bool {
	return e.Dir || len(e.Entries) > 0
}

// Perm returns the permission bits of the entry, with defaults of 0755 for
// directories and 0644 for files.
func (e *Entry) Perm() uint16 {
	if e.Mode != 0 {
		return e.Mode & 07777
	}
	if e.IsDir() {
		return 0755
	}
	return 0644
}

// Contents returns the bytes of a file entry.
func (e *Entry) Contents() ([]byte, error) {
	if e.Source == "" {
		return []byte(e.Data), nil
	}
	data, err := ioutil.ReadFile(e.Source)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.Source, err)
	}
	return data, nil
}

// Params returns the volume parameters of the prototype.
func (p *Proto) Params() Params {
	return Params{Size: p.Size, Isize: p.Isize}
}

// ParseProto decodes a YAML prototype and checks its names.
func ParseProto(data []byte) (*Proto, error) {
	var p Proto
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prototype: %w", err)
	}
	if err := checkEntries("/", p.Root); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadProto reads a YAML prototype from filename.
func LoadProto(filename string) (*Proto, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading prototype: %w", err)
	}
	return ParseProto(data)
}

func checkEntries(dir string, entries []Entry) error {
	seen := map[string]bool{}
	for _, e := range entries {
		switch {
		case e.Name == "" || e.Name == "." || e.Name == "..":
			return fmt.Errorf("%w: bad name %q in %s", ErrParams, e.Name, dir)
		case len(e.Name) > common.DIRSIZ:
			return fmt.Errorf("%w: name %q in %s is longer than %d bytes", ErrParams, e.Name, dir, common.DIRSIZ)
		case seen[e.Name]:
			return fmt.Errorf("%w: %s appears twice in %s", ErrParams, e.Name, dir)
		}
		for i := 0; i < len(e.Name); i++ {
			if e.Name[i] == '/' || e.Name[i] == 0 {
				return fmt.Errorf("%w: bad name %q in %s", ErrParams, e.Name, dir)
			}
		}
		seen[e.Name] = true
		if err := checkEntries(path.Join(dir, e.Name), e.Entries); err != nil {
			return err
		}
	}
	return nil
}
