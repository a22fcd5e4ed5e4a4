package config

import (
	"os"
	"testing"
)

func TestParseValidConfig(t *testing.T) {
	yamlData := []byte(`
host: "https://conancrates.example.com"
address: ":8080"
loglevel: "debug"
admintoken: testTest
users:
  testUser: testPassword
storage:
  blob: "file:///var/lib/conancrates/blobs"
  catalog:
    packages: "mem://packages/name"
    versions: "mem://versions/id"
    binaries: "mem://binaries/package_id"
    dependencies: "mem://dependencies/id"
    topics: "mem://topics/slug"
`)

	config, err := ParseConfig(yamlData)
	if err != nil {
		t.Errorf("Failed to parse valid config: %s", err)
	}

	if config.Host != "https://conancrates.example.com" {
		t.Errorf("Expected host 'https://conancrates.example.com', got '%s'", config.Host)
	}

	if config.Address != ":8080" {
		t.Errorf("Expected address ':8080', got '%s'", config.Address)
	}

	if config.Storage.Blob != "file:///var/lib/conancrates/blobs" {
		t.Errorf("Expected blob URL 'file:///var/lib/conancrates/blobs', got '%s'", config.Storage.Blob)
	}

	if config.Storage.Catalog.Packages != "mem://packages/name" {
		t.Errorf("Expected packages URL 'mem://packages/name', got '%s'", config.Storage.Catalog.Packages)
	}

	if config.Storage.Catalog.Binaries != "mem://binaries/package_id" {
		t.Errorf("Expected binaries URL 'mem://binaries/package_id', got '%s'", config.Storage.Catalog.Binaries)
	}

	if config.AdminToken != "testTest" {
		t.Errorf("Expected admin token 'testTest', got '%s'", config.AdminToken)
	}

	if config.Users["testUser"] != "testPassword" {
		t.Errorf("Expected user 'testUser' password 'testPassword', got '%s'", config.Users["testUser"])
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	// Set an environment variable for testing
	os.Setenv("TEST_ADMIN_TOKEN", "exampleToken")
	defer os.Unsetenv("TEST_ADMIN_TOKEN")
	os.Setenv("TEST_USER_PASSWORD", "examplePassword")
	defer os.Unsetenv("TEST_USER_PASSWORD")
	os.Setenv("TEST_BLOB_SECRET", "blobSecret")
	defer os.Unsetenv("TEST_BLOB_SECRET")

	yamlData := []byte(`
admintoken: "${TEST_ADMIN_TOKEN}"
users:
  testUser: "${TEST_USER_PASSWORD}"
storage:
  blob: "s3://crates?secret=${TEST_BLOB_SECRET}"
`)

	config, err := ParseConfig(yamlData)
	if err != nil {
		t.Errorf("Failed to parse config with env var: %s", err)
	}

	if config.AdminToken != "exampleToken" {
		t.Errorf("Expected admin token 'exampleToken', got '%s'", config.AdminToken)
	}

	if config.Users["testUser"] != "examplePassword" {
		t.Errorf("Expected user 'testUser' password 'examplePassword', got '%s'", config.Users["testUser"])
	}

	if config.Storage.Blob != "s3://crates?secret=blobSecret" {
		t.Errorf("Expected blob URL 's3://crates?secret=blobSecret', got '%s'", config.Storage.Blob)
	}
}

func TestParseInvalidConfig(t *testing.T) {
	invalidYAML := []byte(`:invalidYAML`)

	_, err := ParseConfig(invalidYAML)
	if err == nil {
		t.Error("Expected an error for invalid YAML, but got none")
	}
}

func TestFromFile(t *testing.T) {
	// Create a temporary file with test data
	tempFile, err := os.CreateTemp("", "test_config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %s", err)
	}
	defer os.Remove(tempFile.Name())

	content := []byte(`host: "https://conancrates.example.com"`)
	if _, err := tempFile.Write(content); err != nil {
		t.Fatalf("Failed to write to temp file: %s", err)
	}
	if err := tempFile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %s", err)
	}

	config, err := FromFile(tempFile.Name())
	if err != nil {
		t.Errorf("Failed to read from file: %s", err)
	}

	if config.Host != "https://conancrates.example.com" {
		t.Errorf("Expected host 'https://conancrates.example.com', got '%s'", config.Host)
	}
}
