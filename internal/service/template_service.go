// internal/service/template_service.go
package service

import (
    "fmt"
    "strings"
    "sync"

    "github.com/osteele/liquid"

    "github.com/coldpitch/outreach-backend/internal/model"
)

// TemplateService renders per-contact personalization with Liquid.
// Templates written before the Liquid engine existed use single-brace
// placeholders and go through the legacy path.
type TemplateService struct {
    engine *liquid.Engine
    cache  sync.Map // map[string]*liquid.Template
}

func NewTemplateService() *TemplateService {
    engine := liquid.NewEngine()

    // Default value filter: {{ first_name | default: "there" }}
    engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
        if value == nil {
            return defaultVal
        }
        strVal := fmt.Sprintf("%v", value)
        if strVal == "" || strVal == "<nil>" {
            return defaultVal
        }
        return value
    })

    return &TemplateService{engine: engine}
}

// Render produces the personalized message body for one contact.
func (ts *TemplateService) Render(template string, contact *model.Contact) (string, error) {
    if strings.TrimSpace(template) == "" {
        return "", fmt.Errorf("template cannot be empty")
    }

    if !strings.Contains(template, "{{") {
        return renderLegacy(template, contact), nil
    }

    tpl, err := ts.parse(template)
    if err != nil {
        return "", err
    }

    return tpl.RenderString(bindingFor(contact))
}

func (ts *TemplateService) parse(template string) (*liquid.Template, error) {
    if cached, ok := ts.cache.Load(template); ok {
        return cached.(*liquid.Template), nil
    }
    tpl, err := ts.engine.ParseString(template)
    if err != nil {
        return nil, err
    }
    ts.cache.Store(template, tpl)
    return tpl, nil
}

func bindingFor(contact *model.Contact) map[string]interface{} {
    return map[string]interface{}{
        "email":      contact.Email,
        "first_name": contact.FirstName,
        "last_name":  contact.LastName,
        "company":    contact.Company,
        "title":      contact.Title,
    }
}

// renderLegacy substitutes single-brace placeholders the way the first
// version of the platform did. Empty fields render as <unknown>.
func renderLegacy(template string, contact *model.Contact) string {
    result := template
    placeholders := map[string]string{
        "email":      contact.Email,
        "first_name": contact.FirstName,
        "last_name":  contact.LastName,
        "company":    contact.Company,
        "title":      contact.Title,
    }
    for k, v := range placeholders {
        if v == "" {
            v = "<unknown>"
        }
        result = strings.ReplaceAll(result, "{"+k+"}", v)
    }
    return result
}
