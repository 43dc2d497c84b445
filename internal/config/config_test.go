package config

import "testing"

func TestUseHostedBackends(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"all local", Config{}, false},
		{"queue url set", Config{Queue: QueueConfig{URL: "nats://localhost"}}, true},
		{"database url set", Config{Store: StoreConfig{DatabaseURL: "postgres://localhost/db"}}, true},
		{"s3 bucket set", Config{Blob: BlobConfig{S3Bucket: "my-bucket"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.UseHostedBackends(); got != tc.want {
				t.Errorf("UseHostedBackends() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateZoomPercentRange(t *testing.T) {
	cases := []struct {
		name    string
		zoom    int
		wantErr bool
	}{
		{"too low", 10, true},
		{"too high", 250, true},
		{"in range", 100, false},
		{"lower bound", 25, false},
		{"upper bound", 200, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Browser: BrowserConfig{ZoomPercent: tc.zoom, CropX2: 100, CropY2: 100}}
			err := validate(cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateCropBoundsOnlyCheckedWhenEnabled(t *testing.T) {
	cfg := Config{
		Browser: BrowserConfig{ZoomPercent: 100, CropEnabled: false, CropX1: 50, CropX2: 10},
	}
	if err := validate(cfg); err != nil {
		t.Errorf("validate() = %v, want nil when crop is disabled despite invalid bounds", err)
	}
}

func TestValidateRejectsInvalidCropBoundsWhenEnabled(t *testing.T) {
	cfg := Config{
		Browser: BrowserConfig{ZoomPercent: 100, CropEnabled: true, CropX1: 50, CropX2: 10, CropY2: 100},
	}
	if err := validate(cfg); err == nil {
		t.Error("expected error for x1 >= x2 when crop is enabled")
	}
}
