// Package models provides data model definitions for the wholesale catalog.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
)

// Order status and origin values understood by the remote order table.
const (
	StatusReceived = "recibido"

	OriginCatalogWeb = "catalogo_web"
	OriginPDFImport  = "pdf_importado"
)

// VariantQuantity is the quantity ordered for one color of a product.
type VariantQuantity struct {
	Color    string `json:"color" validate:"required"`
	Quantity int    `json:"cantidad" validate:"gte=0"`
}

// LineItem is one product line of an order.
type LineItem struct {
	Code        string            `json:"codigo" validate:"required"`
	Name        string            `json:"nombre"`
	UnitPrice   float64           `json:"precio_unitario" validate:"gte=0"`
	Category    string            `json:"categoria"`
	Description string            `json:"descripcion"`
	Variants    []VariantQuantity `json:"variantes" validate:"dive"`
	Assortment  int               `json:"surtido" validate:"gte=0"`
	Comment     string            `json:"comentario"`
}

// HasQuantity reports whether the line orders anything: a positive variant
// quantity or a positive assortment.
func (li LineItem) HasQuantity() bool {
	if li.Assortment > 0 {
		return true
	}
	for _, v := range li.Variants {
		if v.Quantity > 0 {
			return true
		}
	}
	return false
}

// Order is the payload produced by the catalog UI and stored remotely in
// the received-orders table. JSON names follow that table's columns.
type Order struct {
	ID            string          `json:"id,omitempty"`
	Number        string          `json:"numero" validate:"required"`
	ClientName    string          `json:"cliente_nombre" validate:"required"`
	ClientPhone   string          `json:"cliente_telefono,omitempty"`
	ClientAddress string          `json:"cliente_direccion,omitempty"`
	OrderedAt     time.Time       `json:"fecha_pedido"`
	Status        string          `json:"estado"`
	Origin        string          `json:"origen"`
	Items         []LineItem      `json:"productos" validate:"required,min=1,dive"`
	FinalComment  string          `json:"comentario_final,omitempty"`
	Total         float64         `json:"total" validate:"gt=0"`
	Backup        json.RawMessage `json:"datos_respaldo,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func orderValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			o := sl.Current().Interface().(Order)
			if strings.TrimSpace(o.Number) == "" {
				sl.ReportError(o.Number, "numero", "Number", "notblank", "")
			}
			if strings.TrimSpace(o.ClientName) == "" {
				sl.ReportError(o.ClientName, "cliente_nombre", "ClientName", "notblank", "")
			}
		}, Order{})
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			li := sl.Current().Interface().(LineItem)
			if !li.HasQuantity() {
				sl.ReportError(li.Variants, "variantes", "Variants", "quantity", li.Code)
			}
		}, LineItem{})
	})
	return validate
}

// Validate checks the order before it is delivered or queued. The returned
// error is an ORDER_INVALID AppError listing every problem found.
func (o *Order) Validate() error {
	err := orderValidator().Struct(o)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Wrap(apperrors.ErrOrderInvalid, "order validation failed", err)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "quantity":
			problems = append(problems, fmt.Sprintf("%s: line %v has no quantities", fe.Namespace(), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	return apperrors.New(apperrors.ErrOrderInvalid, strings.Join(problems, "; "))
}

// Normalize fills the defaults the remote table expects: status, origin,
// creation time and the raw backup payload.
func (o *Order) Normalize(now time.Time) {
	o.Status = StatusReceived
	if o.Origin == "" {
		o.Origin = OriginCatalogWeb
	}
	if o.OrderedAt.IsZero() {
		o.OrderedAt = now.UTC()
	}
	if len(o.Backup) == 0 {
		clone := *o
		clone.Backup = nil
		if raw, err := json.Marshal(clone); err == nil {
			o.Backup = raw
		}
	}
}
