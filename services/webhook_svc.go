package services

import (
	"bytes"
	"encoding/json"
	"log"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"

	"github.com/go-errors/errors"
	"github.com/go-openapi/loads"
	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

type WebhookService interface {
	ListWebhooks(uuid.UUID) ([]models.Webhook, error)
	GetWebhook(string) (models.Webhook, error)
	CreateWebhook(models.Webhook) (models.Webhook, error)
	DeleteWebhook(string) error
	RunWebhook(models.Webhook, []byte) (int64, error)
}

type WebhookServiceImpl struct {
	db         *gorm.DB
	config     config.Config
	JobService JobService
}

func NewWebhookService(database *gorm.DB, config config.Config, js JobService) WebhookService {
	return &WebhookServiceImpl{
		db:         database,
		config:     config,
		JobService: js,
	}
}

// The secret column is never selected on reads. It is returned once, by
// CreateWebhook, and only used internally for signature checks.
func (w *WebhookServiceImpl) ListWebhooks(userid uuid.UUID) ([]models.Webhook, error) {
	var webHooks []models.Webhook

	res := w.db.Select("id", "owner", "command", "core", "schema", "created_at", "updated_at", "description").
		Where("owner = ?", userid).
		Find(&webHooks)

	if res.Error != nil {
		return webHooks, res.Error
	}

	return webHooks, nil
}

func (w *WebhookServiceImpl) GetWebhook(id string) (models.Webhook, error) {
	var webHook models.Webhook

	res := w.db.Select("id", "owner", "command", "core", "schema", "created_at", "updated_at", "description").
		Where("id = ?", id).
		Find(&webHook)

	if res.Error != nil {
		return models.Webhook{}, res.Error
	}

	if res.RowsAffected == 0 {
		return models.Webhook{}, errors.Errorf("webhook %s not found, please check uuid", id)
	}

	return webHook, nil
}

func (w *WebhookServiceImpl) CreateWebhook(webHook models.Webhook) (models.Webhook, error) {
	if webHook.Command == "" {
		return models.Webhook{}, errors.New("command is required")
	}
	if webHook.Core != "" {
		if _, ok := w.config.Worker.CoreTypes[webHook.Core]; !ok {
			return models.Webhook{}, errors.Errorf("unknown core type %q", webHook.Core)
		}
	}
	if len(webHook.Schema) > 0 {
		jsonData, err := json.Marshal(webHook.Schema)
		if err != nil {
			return models.Webhook{}, err
		}
		if err = ValidateSchema(jsonData); err != nil {
			return models.Webhook{}, err
		}
	}
	if webHook.Secret == "" {
		secret, err := helpers.RandomHex(20)
		if err != nil {
			return models.Webhook{}, err
		}
		webHook.Secret = secret
	}

	res := w.db.Create(&webHook)

	return webHook, res.Error
}

func (w *WebhookServiceImpl) DeleteWebhook(id string) error {
	webHook, err := w.GetWebhook(id)
	if err != nil {
		return err
	}
	return w.db.Unscoped().Delete(&webHook).Error
}

// schemaEnvelope is a minimal Swagger 2.0 document the webhook schema is
// spliced into so the whole thing can be checked against the Swagger
// meta-schema.
const schemaEnvelope = `{
	"swagger": "2.0",
	"info": {"title": "webhook delivery", "version": "1.0.0"},
	"paths": {},
	"definitions": {"delivery": "%schema%"}
}`

// ValidateSchema rejects schema documents that are not valid JSON schemas,
// so broken schemas surface at webhook creation rather than on the first
// delivery.
func ValidateSchema(schema []byte) error {
	output := bytes.Replace([]byte(schemaEnvelope), []byte(`"%schema%"`), schema, 1)

	doc, err := loads.Analyzed(output, "2.0")
	if err != nil {
		return errors.Errorf("schema is not valid JSON: %v", err)
	}

	validate.SetContinueOnErrors(true)
	if err = validate.Spec(doc, strfmt.Default); err != nil {
		return errors.Errorf("schema is not a valid JSON schema: %v", err)
	}

	return nil
}

// RunWebhook submits the webhook's command as a job owned by the
// webhook's owner. The delivery body is validated against the stored
// schema when one is set, then handed to the job as stdin.
func (w *WebhookServiceImpl) RunWebhook(webHook models.Webhook, body []byte) (int64, error) {
	if len(webHook.Schema) > 0 {
		schemaJSON, err := json.Marshal(webHook.Schema)
		if err != nil {
			return 0, err
		}
		schema := new(spec.Schema)
		_ = json.Unmarshal(schemaJSON, schema)

		var payload interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			return 0, errors.New("delivery body is not valid JSON")
		}

		// strfmt.Default is the registry of recognized formats
		err = validate.AgainstSchema(schema, payload, strfmt.Default)
		if err != nil {
			log.Printf("JSON does not validate against schema: %v", err)
			return 0, err
		}
	}

	jids, err := w.JobService.CreateJobs(webHook.Owner, models.JobSubmission{
		Jobs: []models.JobRequest{{
			Cmd:   webHook.Command,
			Core:  webHook.Core,
			Name:  "webhook " + webHook.ID.String(),
			Tags:  map[string]string{"webhook": webHook.ID.String()},
			Stdin: body,
		}},
	})
	if err != nil {
		return 0, err
	}

	return jids[0], nil
}
