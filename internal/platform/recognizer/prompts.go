package recognizer

import "github.com/duitscan/scan_ledger_app/internal/core/domain"

const basePrompt = `You are reading a screenshot of an Indonesian payment app transaction
history or a bank statement. Extract every transaction visible in the image.

Respond with ONLY a JSON object, no markdown, in this shape:

{
  "app": "<payment app the screenshot comes from: gojek, grab, dana, ovo, bca, jago, jenius, danamon or mandiri_cc>",
  "transactions": [
    {
      "date": "YYYY-MM-DD",
      "category": "<food, transport, shopping, bills, topup, transfer or other>",
      "description": "<transaction text exactly as shown>",
      "merchant": "<counterparty or destination>",
      "price": <unit amount as a number>,
      "quantity": <integer, 1 if not itemized>,
      "total": <total amount as a number, always positive>,
      "payment": "<same as app unless the row clearly says otherwise>",
      "remarks": "<extra visible detail such as masked card numbers, or empty>",
      "transactionType": "<expense, income, transfer_in or transfer_out>",
      "forwardedFromApp": "<grab or gojek when the rule below applies, otherwise omit>"
    }
  ]
}

Amounts are in Indonesian Rupiah; strip thousand separators and the Rp prefix.
Top-ups and balance transfers between accounts are transfer_in on the receiving
side and transfer_out on the sending side. If a row is cut off or unreadable,
still include it with your best guess and an empty date.`

const mandiriCCProfile = `

This image is a Mandiri credit card statement (payment app mandiri_cc).
Statement lines can be charges forwarded from ride-hailing apps:
- a description starting with "GRAB*" or "GRAB *" means forwardedFromApp "grab"
- a description containing "GOPAYID", "GO-PAY" or "GOJEK" means forwardedFromApp "gojek"
Copy any masked card number (like **** 1234) into remarks verbatim.`

const gojekProfile = `

This image is a Gojek / GoPay order history (payment app gojek). Rows paid with
a linked card instead of the GoPay balance show a masked card suffix; keep that
masked number in remarks exactly as displayed.`

const grabProfile = `

This image is a Grab activity or OVO-linked payment history (payment app grab).
GrabPay, GrabFood and GrabCar rows are all expenses unless the row is a top-up.`

const bcaProfile = `

This image is a BCA mobile (m-BCA / m-Transfer) mutation list (payment app bca).
Rows are marked DB (debit, money out) or CR (credit, money in); use DB/CR to
pick transactionType, not the wording. "TRSF E-BANKING" and "SWITCHING" rows are
transfers; put the destination account or name into merchant.`

const ovoProfile = `

This image is an OVO transaction history (payment app ovo). Row titles map
directly: "Transfer Out" is transfer_out, "Top Up" is transfer_in with category
topup, "Merchant Payment" and "Payment" are expenses with the merchant name as
shown, "Cashback" is income. OVO Points rows are not money, skip them.`

const danaProfile = `

This image is a DANA activity list (payment app dana). Amounts carry an Rp
prefix and a +/- sign; minus is an expense or transfer_out, plus is income or
transfer_in. Only include rows whose status reads "Berhasil" (successful); skip
rows marked "Gagal" or "Diproses".`

const jagoProfile = `

This image is a Bank Jago transaction history (payment app jago). Moves between
the main balance and a Pocket are internal and must be transfer_in/transfer_out
pairs, with the pocket name in merchant. QRIS payments are expenses; amounts
shown in red are money out, green are money in.`

const jeniusProfile = `

This image is a Jenius (BTPN) transaction list (payment app jenius). The +/-
indicator before the amount decides transactionType. "BI-Fast" and "RTGS" rows
are transfers with the counterparty in merchant; "Flexi Cash" disbursements are
income with category other.`

const danamonProfile = `

This image is a Danamon D-Bank PRO account mutation (payment app danamon). Each
row shows a running balance after the amount; extract only the transaction
amount, never the balance. "BI-Fast", "SKN" and "RTGS" rows are transfers with
the destination in merchant.`

// buildPrompt returns the extraction prompt, specialized when the caller
// already knows which app the screenshot comes from.
func buildPrompt(hint *domain.PaymentApp) string {
	if hint == nil {
		return basePrompt
	}
	switch *hint {
	case domain.AppMandiriCC:
		return basePrompt + mandiriCCProfile
	case domain.AppGojek:
		return basePrompt + gojekProfile
	case domain.AppGrab:
		return basePrompt + grabProfile
	case domain.AppBCA:
		return basePrompt + bcaProfile
	case domain.AppOVO:
		return basePrompt + ovoProfile
	case domain.AppDana:
		return basePrompt + danaProfile
	case domain.AppJago:
		return basePrompt + jagoProfile
	case domain.AppJenius:
		return basePrompt + jeniusProfile
	case domain.AppDanamon:
		return basePrompt + danamonProfile
	default:
		return basePrompt + "\n\nThe screenshot is from the app \"" + string(*hint) + "\"."
	}
}
