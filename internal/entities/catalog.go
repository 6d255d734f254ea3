// Package entities holds the static catalog of detectable entity types and
// their default sensitivity categories.
package entities

import (
	"strings"
	"unicode"

	"github.com/qualys/piiflow/internal/models"
)

// Entity is one detectable entity type.
type Entity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Code  string `json:"code"`
}

// AllID is the pseudo attribute that toggles every visible entity.
const AllID = "all"

// DefaultSelectedID is pre-selected in a fresh session.
const DefaultSelectedID = "creditCard"

var globalEntities = []Entity{
	{ID: "creditCard", Label: "Credit Card", Code: "CREDIT_CARD"},
	{ID: "crypto", Label: "Cryptocurrency", Code: "CRYPTO"},
	{ID: "dateTime", Label: "Date & Time", Code: "DATE_TIME"},
	{ID: "email", Label: "Email Addresses", Code: "EMAIL_ADDRESS"},
	{ID: "iban", Label: "IBAN Code", Code: "IBAN_CODE"},
	{ID: "ipAddress", Label: "IP Addresses", Code: "IP_ADDRESS"},
	{ID: "nrp", Label: "NRP", Code: "NRP"},
	{ID: "location", Label: "Locations", Code: "LOCATION"},
	{ID: "person", Label: "Person Names", Code: "PERSON"},
	{ID: "phone", Label: "Phone Numbers", Code: "PHONE_NUMBER"},
	{ID: "medicalLicense", Label: "Medical License", Code: "MEDICAL_LICENSE"},
	{ID: "url", Label: "URLs", Code: "URL"},
}

var countryOrder = []string{
	"USA", "UK", "Spain", "Italy", "Poland", "Singapore", "Australia", "India", "Finland",
}

var countryEntities = map[string][]Entity{
	"USA": {
		{ID: "usBankNumber", Label: "US Bank Numbers", Code: "US_BANK_NUMBER"},
		{ID: "usDriverLicense", Label: "US Driver License", Code: "US_DRIVER_LICENSE"},
		{ID: "usItin", Label: "US ITIN", Code: "US_ITIN"},
		{ID: "usPassport", Label: "US Passport", Code: "US_PASSPORT"},
		{ID: "usSsn", Label: "US SSN", Code: "US_SSN"},
	},
	"UK": {
		{ID: "ukNhs", Label: "UK NHS Number", Code: "UK_NHS"},
		{ID: "ukNino", Label: "UK National Insurance Number", Code: "UK_NINO"},
	},
	"Spain": {
		{ID: "esNif", Label: "Spanish NIF", Code: "ES_NIF"},
		{ID: "esNie", Label: "Spanish NIE", Code: "ES_NIE"},
	},
	"Italy": {
		{ID: "itFiscalCode", Label: "Italian Fiscal Code", Code: "IT_FISCAL_CODE"},
		{ID: "itDriverLicense", Label: "Italian Driver License", Code: "IT_DRIVER_LICENSE"},
		{ID: "itVatCode", Label: "Italian VAT Code", Code: "IT_VAT_CODE"},
		{ID: "itPassport", Label: "Italian Passport", Code: "IT_PASSPORT"},
		{ID: "itIdentityCard", Label: "Italian Identity Card", Code: "IT_IDENTITY_CARD"},
	},
	"Poland": {
		{ID: "plPesel", Label: "Polish PESEL", Code: "PL_PESEL"},
	},
	"Singapore": {
		{ID: "sgNricFin", Label: "Singapore NRIC/FIN", Code: "SG_NRIC_FIN"},
		{ID: "sgUen", Label: "Singapore UEN", Code: "SG_UEN"},
	},
	"Australia": {
		{ID: "auAbn", Label: "Australian ABN", Code: "AU_ABN"},
		{ID: "auAcn", Label: "Australian ACN", Code: "AU_ACN"},
		{ID: "auTfn", Label: "Australian TFN", Code: "AU_TFN"},
		{ID: "auMedicare", Label: "Australian Medicare", Code: "AU_MEDICARE"},
	},
	"India": {
		{ID: "inPan", Label: "Indian PAN", Code: "IN_PAN"},
		{ID: "inAadhar", Label: "Indian Aadhaar", Code: "IN_AADHAR"},
		{ID: "inVehicleRegistration", Label: "Indian Vehicle Registration", Code: "IN_VEHICLE_REGISTRATION"},
		{ID: "inVoter", Label: "Indian Voter ID", Code: "IN_VOTER"},
		{ID: "inPassport", Label: "Indian Passport", Code: "IN_PASSPORT"},
		{ID: "inPhoneNumber", Label: "Indian Phone Number", Code: "IN_PHONE_NUMBER"},
		{ID: "inCreditCard", Label: "Indian Credit Card", Code: "IN_CREDIT_CARD"},
		{ID: "inGstNumber", Label: "Indian GST Number", Code: "IN_GST_NUMBER"},
		{ID: "inUpiId", Label: "Indian UPI ID", Code: "IN_UPI_ID"},
		{ID: "inBankAccount", Label: "Indian Bank Account Number", Code: "IN_BANK_ACCOUNT"},
		{ID: "inIfscCode", Label: "Indian IFSC Code", Code: "IN_IFSC_CODE"},
		{ID: "inDrivingLicense", Label: "Indian Driving License", Code: "IN_DRIVING_LICENSE"},
	},
	"Finland": {
		{ID: "fiPersonalIdentityCode", Label: "Finnish Personal Identity Code", Code: "FI_PERSONAL_IDENTITY_CODE"},
	},
}

// defaultCategories is the server-side default classification table.
var defaultCategories = map[models.Category][]string{
	models.CategoryConfidential: {
		"CREDIT_CARD", "CRYPTO", "IBAN_CODE", "MEDICAL_LICENSE",
		"US_BANK_NUMBER", "US_DRIVER_LICENSE", "US_ITIN", "US_PASSPORT", "US_SSN",
		"UK_NHS", "UK_NINO", "ES_NIF", "ES_NIE", "IT_FISCAL_CODE", "IT_DRIVER_LICENSE",
		"IT_VAT_CODE", "IT_PASSPORT", "IT_IDENTITY_CARD", "PL_PESEL", "SG_NRIC_FIN",
		"SG_UEN", "AU_ABN", "AU_ACN", "AU_TFN", "AU_MEDICARE", "IN_PAN", "IN_AADHAR",
		"IN_VEHICLE_REGISTRATION", "IN_VOTER", "IN_PASSPORT", "IN_CREDIT_CARD",
		"IN_GST_NUMBER", "IN_UPI_ID", "IN_BANK_ACCOUNT", "IN_IFSC_CODE", "IN_DRIVING_LICENSE",
		"FI_PERSONAL_IDENTITY_CODE",
	},
	models.CategoryPrivate:    {"DATE_TIME", "LOCATION", "PERSON", "PHONE_NUMBER", "IN_PHONE_NUMBER"},
	models.CategoryRestricted: {"EMAIL_ADDRESS", "NRP", "URL", "IP_ADDRESS"},
	models.CategoryOther:      {},
}

var (
	byID       = make(map[string]Entity)
	byCode     = make(map[string]Entity)
	categoryOf = make(map[string]models.Category)
	all        []Entity
)

func init() {
	all = append(all, globalEntities...)
	for _, country := range countryOrder {
		all = append(all, countryEntities[country]...)
	}
	for _, e := range all {
		byID[e.ID] = e
		byCode[e.Code] = e
	}
	for _, cat := range models.Categories {
		for _, code := range defaultCategories[cat] {
			categoryOf[code] = cat
		}
	}
}

// Global returns the generic entity pool.
func Global() []Entity {
	return append([]Entity(nil), globalEntities...)
}

// Countries returns the supported country names in display order.
func Countries() []string {
	return append([]string(nil), countryOrder...)
}

// Country returns the entity pool for a country and whether the country is known.
func Country(name string) ([]Entity, bool) {
	list, ok := countryEntities[name]
	if !ok {
		return nil, false
	}
	return append([]Entity(nil), list...), true
}

// All returns every entity, globals first, then each country in order.
func All() []Entity {
	return append([]Entity(nil), all...)
}

// ByID looks up an entity by its catalog id.
func ByID(id string) (Entity, bool) {
	e, ok := byID[id]
	return e, ok
}

// ByCode looks up an entity by its backend code.
func ByCode(code string) (Entity, bool) {
	e, ok := byCode[code]
	return e, ok
}

// DefaultCategory returns the default bucket for a backend code. Codes that
// the default table does not classify fall into OTHER.
func DefaultCategory(code string) models.Category {
	if cat, ok := categoryOf[code]; ok {
		return cat
	}
	return models.CategoryOther
}

// Label returns the display label for a backend code, deriving a readable
// label from the code itself when it is not in the catalog.
func Label(code string) string {
	if e, ok := byCode[code]; ok {
		return e.Label
	}
	words := strings.Split(code, "_")
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// DefaultSelection returns a fresh selection with every entity off except
// the default one.
func DefaultSelection() map[string]bool {
	sel := make(map[string]bool, len(all))
	for _, e := range all {
		sel[e.ID] = false
	}
	sel[DefaultSelectedID] = true
	return sel
}
