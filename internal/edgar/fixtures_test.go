package edgar

import (
	"fmt"
	"strings"
)

const sampleIndex = `Description:           Daily Index of EDGAR Dissemination Feed by Form Type
Last Data Received:    April 24, 2025
Comments:              webmaster@sec.gov
Anonymous FTP:         ftp://ftp.sec.gov/edgar/

Form Type   Company Name                                                  CIK         Date Filed  File Name
---------------------------------------------------------------------------------------------------------------------------------------------
3           Globex Inc                                                    2222222     20250424    edgar/data/2222222/0002222222-25-000003.txt
4           Acme Corp                                                     1111111     20250424    edgar/data/1111111/0001111111-25-000001.txt
4           Roe Jane                                                      3333333     20250424    edgar/data/1111111/0001111111-25-000002.txt
4/A         Acme Corp                                                     1111111     20250424    edgar/data/1111111/0001111111-25-000009.txt
4           Initech                                                       4444444     20250424    edgar/data/4444444/0004444444-25-000001.htm
40-APP      Umbrella Co                                                   5555555     20250424    edgar/data/5555555/0005555555-25-000001.txt
`

// filingText wraps an ownership document the way EDGAR full-submission
// text files do.
func filingText(ownershipXML string) string {
	return `<SEC-DOCUMENT>0001111111-25-000001.txt : 20250424
<SEC-HEADER>0001111111-25-000001.hdr.sgml : 20250424
ACCESSION NUMBER:		0001111111-25-000001
CONFORMED SUBMISSION TYPE:	4
</SEC-HEADER>
<DOCUMENT>
<TYPE>4
<SEQUENCE>1
<FILENAME>form4.xml
<TEXT>
<XML>
<?xml version="1.0"?>
` + ownershipXML + `
</XML>
</TEXT>
</DOCUMENT>
</SEC-DOCUMENT>
`
}

func ownershipXML(issuer, owner, body string) string {
	return fmt.Sprintf(`<ownershipDocument>
    <schemaVersion>X0508</schemaVersion>
    <documentType>4</documentType>
    <periodOfReport>2025-04-24</periodOfReport>
    <issuer>
        <issuerCik>0001111111</issuerCik>
        <issuerName>%s</issuerName>
        <issuerTradingSymbol>ACME</issuerTradingSymbol>
    </issuer>
    <reportingOwner>
        <reportingOwnerId>
            <rptOwnerCik>0003333333</rptOwnerCik>
            <rptOwnerName>%s</rptOwnerName>
        </reportingOwnerId>
        <reportingOwnerRelationship>
            <isDirector>1</isDirector>
        </reportingOwnerRelationship>
    </reportingOwner>
%s
</ownershipDocument>`, issuer, owner, body)
}

func nonDerivativeEntry(title, date, code, shares, price string) string {
	var b strings.Builder
	b.WriteString("        <nonDerivativeTransaction>\n")
	if title != "" {
		fmt.Fprintf(&b, "            <securityTitle><value>%s</value></securityTitle>\n", title)
	}
	if date != "" {
		fmt.Fprintf(&b, "            <transactionDate><value>%s</value></transactionDate>\n", date)
	}
	if code != "" {
		fmt.Fprintf(&b, "            <transactionCoding><transactionFormType>4</transactionFormType><transactionCode>%s</transactionCode></transactionCoding>\n", code)
	}
	b.WriteString("            <transactionAmounts>\n")
	if shares != "" {
		fmt.Fprintf(&b, "                <transactionShares><value>%s</value></transactionShares>\n", shares)
	}
	if price != "" {
		fmt.Fprintf(&b, "                <transactionPricePerShare><value>%s</value></transactionPricePerShare>\n", price)
	} else {
		b.WriteString("                <transactionPricePerShare><footnoteId id=\"F1\"/></transactionPricePerShare>\n")
	}
	b.WriteString("                <transactionAcquiredDisposedCode><value>A</value></transactionAcquiredDisposedCode>\n")
	b.WriteString("            </transactionAmounts>\n")
	b.WriteString("        </nonDerivativeTransaction>\n")
	return b.String()
}

func nonDerivativeTable(entries ...string) string {
	return "    <nonDerivativeTable>\n" + strings.Join(entries, "") + "    </nonDerivativeTable>\n"
}

const derivativeFallbackTable = `    <derivativeTable>
        <derivativeTransaction>
            <securityTitle><value>Stock Option (Right to Buy)</value></securityTitle>
            <exercisePrice><value>8.25</value></exercisePrice>
            <transactionDate><value>2025-04-23-04:00</value></transactionDate>
            <transactionCoding><transactionFormType>4</transactionFormType><transactionCode>M</transactionCode></transactionCoding>
            <transactionAmounts>
                <transactionAcquiredDisposedCode><value>D</value></transactionAcquiredDisposedCode>
            </transactionAmounts>
            <underlyingSecurity>
                <underlyingSecurityTitle><value>Common Stock</value></underlyingSecurityTitle>
                <underlyingSecurityShares><value>4000</value></underlyingSecurityShares>
            </underlyingSecurity>
        </derivativeTransaction>
        <derivativeTransaction>
            <securityTitle><value>Restricted Stock Units</value></securityTitle>
            <conversionOrExercisePrice><value>0</value></conversionOrExercisePrice>
            <transactionDate><value>2025-04-23</value></transactionDate>
            <transactionCoding><transactionFormType>4</transactionFormType><transactionCode>A</transactionCode></transactionCoding>
            <transactionAmounts>
                <transactionShares><value>1500</value></transactionShares>
            </transactionAmounts>
        </derivativeTransaction>
        <derivativeTransaction>
            <securityTitle><value>Warrant</value></securityTitle>
            <transactionDate><value>2025-04-23</value></transactionDate>
            <transactionCoding><transactionFormType>4</transactionFormType><transactionCode>P</transactionCode></transactionCoding>
            <transactionAmounts>
                <transactionShares><value>10</value></transactionShares>
            </transactionAmounts>
        </derivativeTransaction>
    </derivativeTable>
`
