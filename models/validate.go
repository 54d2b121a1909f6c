package models

import "github.com/mmdatafocus/lease_backend/utils"

// validateInput runs struct tags and always returns a non-nil map.
func validateInput(s any) (map[string]string, error) {
	fields, err := utils.ValidateStruct(s)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}
