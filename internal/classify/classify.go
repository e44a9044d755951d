// Package classify maps free-text queries to crime-type categories. The
// category only steers the prompt and telemetry; a wrong guess degrades
// answer quality, never correctness.
package classify

import "strings"

// Category is a crime-type label.
type Category string

const (
	CategoryFinancialFraud Category = "financial_fraud"
	CategoryPhishing       Category = "phishing"
	CategoryIdentityTheft  Category = "identity_theft"
	CategoryStalking       Category = "stalking_harassment"
	CategoryHacking        Category = "hacking"
	CategorySextortion     Category = "sextortion"
	CategoryJobFraud       Category = "job_fraud"
	CategoryUnclassified   Category = "unclassified"
)

type rule struct {
	category Category
	keywords []string
}

// Ordering matters: earlier rules win, so the more specific categories come
// first.
var rules = []rule{
	{CategorySextortion, []string{"sextortion", "nude", "intimate photo", "morphed photo", "blackmail video"}},
	{CategoryStalking, []string{"stalk", "harass", "threaten", "abusive message", "troll"}},
	{CategoryJobFraud, []string{"job offer", "work from home", "part time job", "registration fee", "placement fee"}},
	{CategoryPhishing, []string{"phishing", "otp", "fake link", "suspicious link", "fake website", "kyc update", "lottery", "prize"}},
	{CategoryFinancialFraud, []string{"upi", "money", "bank", "account", "transaction", "paytm", "gpay", "phonepe", "credit card", "debit card", "refund", "loan app", "investment"}},
	{CategoryIdentityTheft, []string{"identity", "impersonat", "fake profile", "aadhaar", "pan card", "sim swap"}},
	{CategoryHacking, []string{"hack", "ransomware", "malware", "virus", "unauthorised access", "unauthorized access", "data breach"}},
}

// Classifier assigns crime-type categories by keyword lookup.
type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

// Classify returns the category of the query, or CategoryUnclassified when no
// keyword matches. The error return exists so alternative classifiers can
// fail; this one never does.
func (c *Classifier) Classify(query string) (Category, error) {
	q := strings.ToLower(query)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(q, kw) {
				return r.category, nil
			}
		}
	}
	return CategoryUnclassified, nil
}
