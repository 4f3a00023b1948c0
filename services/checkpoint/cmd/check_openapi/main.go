package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"checkpoint/pkg/domain"
	"checkpoint/services/checkpoint/internal/app"
)

type openAPIDoc struct {
	Paths      map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// wireTypes maps documented schemas to the Go values serialized for them.
var wireTypes = map[string]any{
	"Student":      app.StudentResource{},
	"StudentList":  app.StudentList{},
	"Account":      app.AccountView{},
	"Session":      app.Session{},
	"StatusCounts": domain.StatusCounts{},
}

var requiredOperations = map[string][]string{
	"/auth/login/":                         {"post"},
	"/auth/logout/":                        {"post"},
	"/auth/me/":                            {"get"},
	"/students/":                           {"get"},
	"/students/checkin/":                   {"post"},
	"/students/stats/":                     {"get"},
	"/students/export/":                    {"get"},
	"/students/by-student-id/{studentId}/": {"get"},
	"/students/by-record-id/{recordId}/":   {"get"},
	"/students/{id}/":                      {"get"},
	"/students/{studentId}/checkout/":      {"post"},
	"/upload/":                             {"post"},
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) error {
	var problems []string
	if err := validatePaths(doc); err != nil {
		problems = append(problems, err.Error())
	}

	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		problems = append(problems, err.Error())
	} else if err := validateErrorResponse(errResp); err != nil {
		problems = append(problems, err.Error())
	}

	names := make([]string, 0, len(wireTypes))
	for name := range wireTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if err := ensureMatchesType(name, s, reflect.TypeOf(wireTypes[name])); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "\n"))
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validatePaths(doc openAPIDoc) error {
	var missing []string
	for path, methods := range requiredOperations {
		ops, ok := doc.Paths[path]
		if !ok {
			missing = append(missing, path)
			continue
		}
		for _, method := range methods {
			if _, ok := ops[method]; !ok {
				missing = append(missing, strings.ToUpper(method)+" "+path)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("undocumented operations: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["detail"] {
		return errors.New("ErrorResponse.required must include \"detail\"")
	}
	if prop, ok := s.Properties["detail"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.detail must be string")
	}
	return nil
}

// ensureMatchesType compares documented properties against the json tags of t.
// Every serialized field is always present, so each one must also be required.
func ensureMatchesType(name string, s schema, t reflect.Type) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	fields := jsonFields(t)
	documented := make([]string, 0, len(s.Properties))
	for prop := range s.Properties {
		documented = append(documented, prop)
	}
	sort.Strings(documented)
	if strings.Join(documented, ",") != strings.Join(fields, ",") {
		return fmt.Errorf("%s properties mismatch: doc %v vs go %v", name, documented, fields)
	}
	required := makeSet(s.Required)
	for _, field := range fields {
		if !required[field] {
			return fmt.Errorf("%s.required must include %q", name, field)
		}
	}
	return nil
}

func jsonFields(t reflect.Type) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = f.Name
		}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
