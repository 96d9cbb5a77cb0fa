package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
)

// LoadPropertiesFromFile reads a JSON array of properties.
func LoadPropertiesFromFile(path string) ([]domain.Property, error) {
	var props []domain.Property
	if err := loadJSON(path, &props); err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	return props, nil
}

// LoadProspectsFromFile reads a JSON array of prospects.
func LoadProspectsFromFile(path string) ([]domain.Prospect, error) {
	var prospects []domain.Prospect
	if err := loadJSON(path, &prospects); err != nil {
		return nil, fmt.Errorf("load prospects: %w", err)
	}
	return prospects, nil
}

func loadJSON(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
