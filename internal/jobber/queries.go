package jobber

const addressFields = `street1 street2 city province postalCode country`

const clientQuery = `query GetClient($id: EncodedId!) {
  client(id: $id) {
    id
    firstName
    lastName
    companyName
    emails { address description primary }
    phones { number description primary }
    billingAddress { ` + addressFields + ` }
    tags { name }
    createdAt
    updatedAt
  }
}`

const jobQuery = `query GetJob($id: EncodedId!) {
  job(id: $id) {
    id
    title
    description
    jobStatus
    startAt
    endAt
    client { id }
    jobAddress { ` + addressFields + ` }
    jobNumber
    tags { name }
    total { cents currency }
    createdAt
    updatedAt
  }
}`

const invoiceQuery = `query GetInvoice($id: EncodedId!) {
  invoice(id: $id) {
    id
    invoiceNumber
    invoiceStatus
    client { id }
    job { id }
    subtotal { cents currency }
    taxes { cents currency }
    total { cents currency }
    issuedAt
    dueAt
    sentAt
    paidAt
    lineItems {
      name
      description
      quantity
      unitCost { cents currency }
      total { cents currency }
    }
    createdAt
    updatedAt
  }
}`
