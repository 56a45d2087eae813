package target

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileTimeouts struct {
	EnquireMS int `yaml:"enquire_ms"`
	SelectMS  int `yaml:"select_ms"`
	EraseMS   int `yaml:"erase_ms"`
	DataMS    int `yaml:"data_ms"`
	VerifyMS  int `yaml:"verify_ms"`
	FinishMS  int `yaml:"finish_ms"`
}

func (t fileTimeouts) timeouts() Timeouts {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Timeouts{
		Enquire: ms(t.EnquireMS),
		Select:  ms(t.SelectMS),
		Erase:   ms(t.EraseMS),
		Data:    ms(t.DataMS),
		Verify:  ms(t.VerifyMS),
		Finish:  ms(t.FinishMS),
	}
}

type fileExclude struct {
	Name    string `yaml:"name"`
	Start   uint32 `yaml:"start"`
	End     uint32 `yaml:"end"`
	Exclude bool   `yaml:"exclude"`
}

type fileSpace struct {
	Name          string        `yaml:"name"`
	Kind          string        `yaml:"kind"`
	HexBlock      int           `yaml:"hex_block"`
	SendBlock     int           `yaml:"send_block"`
	Addressing    int           `yaml:"addressing"`
	DataOffset    int64         `yaml:"data_offset"`
	SkipEmpty     bool          `yaml:"skip_empty"`
	SelectDelayMS int           `yaml:"select_delay_ms"`
	Excludes      []fileExclude `yaml:"exclude"`
	Timeouts      fileTimeouts  `yaml:"timeouts"`
}

type fileTarget struct {
	Name        string       `yaml:"name"`
	ProductCode *int         `yaml:"product_code"`
	ProductType byte         `yaml:"product_type"`
	Passthru    bool         `yaml:"passthru"`
	Timeouts    fileTimeouts `yaml:"timeouts"`
	Retries     struct {
		Enquire int `yaml:"enquire"`
		Data    int `yaml:"data"`
	} `yaml:"retries"`
	Spaces []fileSpace `yaml:"spaces"`
}

// The space kinds accepted in target description files. A kind selects the
// send filter, checksum and empty check as a unit.
var kinds = map[string]struct {
	send  SendFilter
	sum   ChecksumFunc
	empty EmptyCheck
}{
	"simple":     {SimpleSendFilter, FillChecksum, SimpleEmpty},
	"pic24-app":  {HMISendFilter, FillChecksum, PIC24Empty},
	"hmi-app":    {HMISendFilter, ZeroChecksum, PIC24Empty},
	"pic16-tiny": {SimpleSendFilter, NoFillChecksum, SimpleEmpty},
}

// ParseConfig parses a YAML target description.
func ParseConfig(data []byte) (*Config, error) {
	// unmarshal file
	var file fileTarget
	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, err
	}

	// check basics
	if file.Name == "" {
		return nil, fmt.Errorf("target description misses a name")
	}
	if len(file.Spaces) == 0 {
		return nil, fmt.Errorf("target %q declares no spaces", file.Name)
	}

	// resolve product code
	code := AnyProduct
	if file.ProductCode != nil {
		if *file.ProductCode < 0 || *file.ProductCode > 0xFF {
			return nil, fmt.Errorf("target %q has invalid product code %d", file.Name, *file.ProductCode)
		}
		code = *file.ProductCode
	}

	// convert spaces
	spaces := make([]Space, 0, len(file.Spaces))
	for _, fs := range file.Spaces {
		// resolve kind
		kind, ok := kinds[fs.Kind]
		if !ok {
			return nil, fmt.Errorf("space %q has unknown kind %q", fs.Name, fs.Kind)
		}

		// check geometry
		if fs.HexBlock <= 0 {
			return nil, fmt.Errorf("space %q misses a hex block size", fs.Name)
		}
		if fs.Addressing != 1 && fs.Addressing != 2 {
			return nil, fmt.Errorf("space %q has invalid addressing %d", fs.Name, fs.Addressing)
		}

		// default send block
		sendBlock := fs.SendBlock
		if sendBlock == 0 {
			sendBlock = fs.HexBlock
		}

		// convert excludes
		var excludes []ExcludeRange
		for _, fe := range fs.Excludes {
			excludes = append(excludes, ExcludeRange(fe))
		}

		// assemble space
		space := Space{
			Name:        fs.Name,
			HexBlock:    fs.HexBlock,
			SendBlock:   sendBlock,
			Addressing:  fs.Addressing,
			DataOffset:  fs.DataOffset,
			SkipEmpty:   fs.SkipEmpty,
			SelectDelay: time.Duration(fs.SelectDelayMS) * time.Millisecond,
			SendFilter:  kind.send,
			Checksum:    kind.sum,
			EmptyCheck:  kind.empty,
			Excludes:    excludes,
			Timeouts:    fs.Timeouts.timeouts(),
		}
		if len(excludes) > 0 {
			space.LoadFilter = ExcludeFilter
		}
		spaces = append(spaces, space)
	}

	return &Config{
		Name:             file.Name,
		ProductCode:      code,
		ProductType:      file.ProductType,
		SupportsPassthru: file.Passthru,
		Timeouts:         file.Timeouts.timeouts(),
		Retries:          Retries{Enquire: file.Retries.Enquire, Data: file.Retries.Data},
		Spaces:           spaces,
	}, nil
}

// LoadConfig reads and parses the target description at the given path.
func LoadConfig(path string) (*Config, error) {
	// read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseConfig(data)
}
