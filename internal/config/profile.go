package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Profile is the file-level override for pipeline tuning. Any key left out keeps
// the value already loaded from the environment.
type Profile struct {
	Import  ProfileImport  `mapstructure:"import"`
	Quality ProfileQuality `mapstructure:"quality"`
	Dedup   ProfileDedup   `mapstructure:"dedup"`
}

type ProfileImport struct {
	TrailsPerSource int     `mapstructure:"trails_per_source"`
	BatchSize       int     `mapstructure:"batch_size"`
	MinQualityScore float64 `mapstructure:"min_quality_score"`
}

type ProfileQuality struct {
	DescriptionWeight    float64 `mapstructure:"description_weight"`
	LocationWeight       float64 `mapstructure:"location_weight"`
	LengthWeight         float64 `mapstructure:"length_weight"`
	MinDescriptionLength int     `mapstructure:"min_description_length"`
}

type ProfileDedup struct {
	BoxDelta  float64 `mapstructure:"box_delta"`
	Threshold float64 `mapstructure:"threshold"`
}

// RegionSpec is one entry of the regions file
type RegionSpec struct {
	Name        string  `mapstructure:"name"`
	Lat         float64 `mapstructure:"lat"`
	Lng         float64 `mapstructure:"lng"`
	RadiusMiles float64 `mapstructure:"radius_miles"`
}

// ApplyProfile reads a YAML or JSON profile and overlays it onto cfg
func ApplyProfile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRAILS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Current values act as defaults so a partial profile only changes what it names
	v.SetDefault("import.trails_per_source", cfg.Import.TrailsPerSource)
	v.SetDefault("import.batch_size", cfg.Import.BatchSize)
	v.SetDefault("import.min_quality_score", cfg.Import.MinQualityScore)
	v.SetDefault("quality.description_weight", cfg.Quality.DescriptionWeight)
	v.SetDefault("quality.location_weight", cfg.Quality.LocationWeight)
	v.SetDefault("quality.length_weight", cfg.Quality.LengthWeight)
	v.SetDefault("quality.min_description_length", cfg.Quality.MinDescriptionLength)
	v.SetDefault("dedup.box_delta", cfg.Dedup.BoxDelta)
	v.SetDefault("dedup.threshold", cfg.Dedup.Threshold)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read import profile %s: %w", path, err)
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return fmt.Errorf("failed to unmarshal import profile: %w", err)
	}

	cfg.Import.TrailsPerSource = p.Import.TrailsPerSource
	cfg.Import.BatchSize = p.Import.BatchSize
	cfg.Import.MinQualityScore = p.Import.MinQualityScore
	cfg.Quality.DescriptionWeight = p.Quality.DescriptionWeight
	cfg.Quality.LocationWeight = p.Quality.LocationWeight
	cfg.Quality.LengthWeight = p.Quality.LengthWeight
	cfg.Quality.MinDescriptionLength = p.Quality.MinDescriptionLength
	cfg.Dedup.BoxDelta = p.Dedup.BoxDelta
	cfg.Dedup.Threshold = p.Dedup.Threshold
	return nil
}

// LoadRegions reads the `regions` list from a YAML or JSON file
func LoadRegions(path string) ([]RegionSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read regions file %s: %w", path, err)
	}

	var file struct {
		Regions []RegionSpec `mapstructure:"regions"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal regions: %w", err)
	}
	if len(file.Regions) == 0 {
		return nil, fmt.Errorf("regions file %s defines no regions", path)
	}

	for i, r := range file.Regions {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("region %d: name is required", i)
		}
		if r.Lat < -90 || r.Lat > 90 || r.Lng < -180 || r.Lng > 180 {
			return nil, fmt.Errorf("region %q: coordinates out of range", r.Name)
		}
		if r.RadiusMiles <= 0 {
			return nil, fmt.Errorf("region %q: radius_miles must be positive", r.Name)
		}
	}
	return file.Regions, nil
}
